package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/chanhub/internal/model"
)

// TestWriteErrorResponse_WritesEnvelope は失敗エンベロープでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesEnvelope(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("all fields are required", "email is required"))

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["statusCode"] != float64(400) {
		t.Errorf("statusCode = %v, want 400", body["statusCode"])
	}
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if body["message"] != "all fields are required" {
		t.Errorf("message = %v", body["message"])
	}
	errs, ok := body["errors"].([]any)
	if !ok || len(errs) != 1 || errs[0] != "email is required" {
		t.Errorf("errors = %v", body["errors"])
	}
}

// TestWriteErrorResponse_EmptyErrorsIsArray はerrorsが常に配列で出力されることを検証する。
func TestWriteErrorResponse_EmptyErrorsIsArray(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if errs, ok := body["errors"].([]any); !ok || len(errs) != 0 {
		t.Errorf("errors = %#v, want empty array", body["errors"])
	}
}

// TestWriteAPIError_StatusByKind はErrorKindごとのステータス変換を検証する。
func TestWriteAPIError_StatusByKind(t *testing.T) {
	tests := []struct {
		name   string
		err    *model.APIError
		status int
	}{
		{"validation", model.NewValidationError("bad"), http.StatusBadRequest},
		{"unauthorized", model.NewUnauthorizedError(model.ErrCodeUnauthorized, "unauthorized request", nil), http.StatusUnauthorized},
		{"not found", model.NewNotFoundError(model.ErrCodeChannelNotFound, "channel does not exist"), http.StatusNotFound},
		{"conflict", model.NewConflictError("user with email or username already exists"), http.StatusConflict},
		{"internal", model.NewInternalError("boom", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAPIError(w, tt.err)

			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if w.Code != tt.status || body.StatusCode != tt.status {
				t.Errorf("status = %d / body %d, want %d", w.Code, body.StatusCode, tt.status)
			}
		})
	}
}

// TestWriteInternalServerError_HidesDetails は内部エラーの詳細がレスポンスに含まれないことを検証する。
func TestWriteInternalServerError_HidesDetails(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body.Message != "internal server error" {
		t.Errorf("message = %q", body.Message)
	}
}
