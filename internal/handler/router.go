package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chanhub/internal/metrics"
	"github.com/hitoshi/chanhub/internal/middleware"
	"github.com/hitoshi/chanhub/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Tokens            middleware.AccessTokenVerifier
	Users             middleware.UserFinder
	CORSAllowedOrigin string
	Logger            *slog.Logger
	HTTPRecorder      metrics.HTTPRecorder

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// チャンネル
	ChannelService ChannelServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → (Auth | OptionalAuth)
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.HTTPRecorder
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(recorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteAPIError(w, model.NewNotFoundError("ROUTE_NOT_FOUND", "route not found"))
	})

	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig.UploadDir, deps.AuthConfig.UploadMaxBytes)
	channelHandler := NewChannelHandler(deps.ChannelService)

	requireAuth := middleware.NewAuthMiddleware(deps.Tokens, deps.Users)
	optionalAuth := middleware.NewOptionalAuthMiddleware(deps.Tokens, deps.Users)

	r.Route("/api/v1/users", func(r chi.Router) {
		// --- 認証不要のルート ---
		r.Method(http.MethodPost, "/register", appHandler(authHandler.Register))
		r.Method(http.MethodPost, "/login", appHandler(authHandler.Login))
		r.Method(http.MethodPost, "/refresh-token", appHandler(authHandler.RefreshToken))

		r.With(optionalAuth).Method(http.MethodGet, "/channel/{username}", appHandler(channelHandler.GetChannelProfile))

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Method(http.MethodPost, "/logout", appHandler(authHandler.Logout))
			r.Method(http.MethodGet, "/current-user", appHandler(userHandler.CurrentUser))
			r.Method(http.MethodPost, "/change-password", appHandler(userHandler.ChangePassword))
			r.Method(http.MethodPatch, "/update-account", appHandler(userHandler.UpdateAccount))
			r.Method(http.MethodPatch, "/update-avatar", appHandler(userHandler.UpdateAvatar))
			r.Method(http.MethodPatch, "/update-cover-image", appHandler(userHandler.UpdateCoverImage))
			r.Method(http.MethodPost, "/subscriptions/{channelID}", appHandler(channelHandler.ToggleSubscription))
		})
	})

	return r
}
