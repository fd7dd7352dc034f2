// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/chanhub/internal/auth"
	"github.com/hitoshi/chanhub/internal/model"
)

// トークンを運ぶCookie名。
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// AccessTokenVerifier はアクセストークンの検証インターフェース。
// auth.TokenServiceが満たす。
type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

// UserFinder はユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewAuthMiddleware はCookieまたはAuthorizationヘッダーのアクセストークンを検証し、
// サニタイズ済みユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// トークンがない・不正・期限切れ、またはユーザーが存在しない場合は401を返す。
func NewAuthMiddleware(tokens AccessTokenVerifier, users UserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, apiErr := authenticate(r, tokens, users)
			if apiErr != nil {
				WriteAPIError(w, apiErr)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// NewOptionalAuthMiddleware はNewAuthMiddlewareと同じ方法でユーザーを解決するが、
// 失敗してもリクエストを拒否せず匿名のまま通す。
func NewOptionalAuthMiddleware(tokens AccessTokenVerifier, users UserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if extractToken(r) == "" {
				next.ServeHTTP(w, r)
				return
			}
			user, apiErr := authenticate(r, tokens, users)
			if apiErr != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

func authenticate(r *http.Request, tokens AccessTokenVerifier, users UserFinder) (*model.User, *model.APIError) {
	token := extractToken(r)
	if token == "" {
		return nil, model.NewUnauthorizedError(model.ErrCodeUnauthorized, "unauthorized request", nil)
	}

	claims, err := tokens.VerifyAccessToken(token)
	if err != nil {
		return nil, model.NewUnauthorizedError(model.ErrCodeUnauthorized, "invalid access token", err)
	}

	user, err := users.FindByID(r.Context(), claims.UserID)
	if err != nil {
		slog.Error("failed to find user for access token",
			slog.String("user_id", claims.UserID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUnauthorizedError(model.ErrCodeUnauthorized, "invalid access token", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError(model.ErrCodeUnauthorized, "invalid access token", nil)
	}

	setLoggedUserID(r.Context(), user.ID)
	return user.Sanitized(), nil
}

// extractToken はaccessToken Cookie、なければBearerヘッダーからトークンを取り出す。
func extractToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if len(h) > len("Bearer ") && strings.EqualFold(h[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return ""
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// 認証ミドルウェアを通過していない場合はnilを返す。
func UserFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user := UserFromContext(ctx)
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
