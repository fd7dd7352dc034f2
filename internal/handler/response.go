// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/chanhub/internal/middleware"
	"github.com/hitoshi/chanhub/internal/model"
)

// appHandler はエラーを返すハンドラー。
// 返されたエラーはServeHTTPでwriteErrorに渡され、統一フォーマットで応答する。
type appHandler func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP はhttp.Handlerを実装する。
func (fn appHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := fn(w, r); err != nil {
		writeError(w, r, err)
	}
}

// successResponse は成功レスポンスのエンベロープ。
type successResponse struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// writeSuccess は成功エンベロープでレスポンスを書き込む。
func writeSuccess(w http.ResponseWriter, statusCode int, data any, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(successResponse{
		StatusCode: statusCode,
		Data:       data,
		Message:    message,
		Success:    statusCode < http.StatusBadRequest,
	}); err != nil {
		// ヘッダー送信済みのため応答は変更できない
		slog.Warn("failed to write response", slog.String("error", err.Error()))
	}
	return nil
}

// writeError はエラーを統一エラーフォーマットへ変換する唯一の経路。
// APIError以外のエラーは内部サーバーエラーとして扱い、詳細はログのみに出力する。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("internal server error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	switch apiErr.Kind {
	case model.KindInternal:
		slog.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", apiErr.Code),
			slog.String("error", apiErr.Error()),
		)
	case model.KindUnauthorized:
		if apiErr.Err != nil {
			slog.Info("request unauthorized",
				slog.String("path", r.URL.Path),
				slog.String("code", apiErr.Code),
				slog.String("cause", apiErr.Err.Error()),
			)
		}
	}
	middleware.WriteAPIError(w, apiErr)
}

// decodeJSON はリクエストボディをdstにデコードする。
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewValidationError("invalid request body", err.Error())
	}
	return nil
}

// currentUserID は認証ミドルウェアが注入したユーザーIDを返す。
func currentUserID(r *http.Request) (string, error) {
	id, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		return "", model.NewUnauthorizedError(model.ErrCodeUnauthorized, "unauthorized request", err)
	}
	return id, nil
}

// userResponse はサニタイズ済みユーザーのAPIレスポンス。
type userResponse struct {
	ID         string    `json:"_id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Fullname   string    `json:"fullname"`
	Avatar     string    `json:"avatar"`
	CoverImage string    `json:"coverImage"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Fullname:   u.Fullname,
		Avatar:     u.Avatar,
		CoverImage: u.CoverImage,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// multipartLimits はマルチパートアップロードの受け入れ設定。
type multipartLimits struct {
	dir      string
	maxBytes int64
}

// parseMultipart はボディサイズを制限してマルチパートフォームを解析する。
func (l multipartLimits) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	if l.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, l.maxBytes)
	}
	if err := r.ParseMultipartForm(min(l.maxBytes, 8<<20)); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return model.NewValidationError("invalid multipart form", err.Error())
	}
	return nil
}
