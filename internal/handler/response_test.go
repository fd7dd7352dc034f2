package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/chanhub/internal/model"
)

func TestAppHandler_SuccessEnvelope(t *testing.T) {
	h := appHandler(func(w http.ResponseWriter, r *http.Request) error {
		return writeSuccess(w, http.StatusCreated, map[string]string{"k": "v"}, "created")
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	env := decodeEnvelope(t, w)
	if !env.Success || env.Message != "created" {
		t.Errorf("unexpected envelope: %+v", env)
	}
	var data map[string]string
	decodeData(t, env, &data)
	if data["k"] != "v" {
		t.Errorf("data = %v", data)
	}
}

func TestAppHandler_ErrorTranslation(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", model.NewValidationError("all fields are required", "email is required"), http.StatusBadRequest, "all fields are required"},
		{"wrapped unauthorized", fmt.Errorf("refresh: %w", model.NewUnauthorizedError(model.ErrCodeInvalidRefreshToken, "invalid refresh token", errors.New("signature is invalid"))), http.StatusUnauthorized, "invalid refresh token"},
		{"not found", model.NewUserNotFoundError(), http.StatusNotFound, "user does not exist"},
		{"conflict", model.NewConflictError("user with email or username already exists"), http.StatusConflict, "user with email or username already exists"},
		{"internal hides cause", model.NewInternalError("failed to change password", errors.New("pq: connection refused")), http.StatusInternalServerError, "failed to change password"},
		{"plain error", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := appHandler(func(http.ResponseWriter, *http.Request) error { return tt.err })

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			env := decodeEnvelope(t, w)
			if env.Success {
				t.Error("success should be false")
			}
			if env.Message != tt.message {
				t.Errorf("message = %q, want %q", env.Message, tt.message)
			}
			if env.Errors == nil {
				t.Error("errors should be an array")
			}
		})
	}
}
