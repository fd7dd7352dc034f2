package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/chanhub/internal/auth"
	"github.com/hitoshi/chanhub/internal/media"
	"github.com/hitoshi/chanhub/internal/middleware"
	"github.com/hitoshi/chanhub/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.Session, error)
	Logout(ctx context.Context, userID string) error
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain   string
	CookieSecure   bool
	AccessMaxAge   time.Duration
	RefreshMaxAge  time.Duration
	UploadDir      string
	UploadMaxBytes int64
}

// AuthHandler は登録・ログイン・トークン更新のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type loginResponse struct {
	User         *userResponse `json:"user"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Register はマルチパートフォームからユーザーを登録する。
// POST /api/v1/users/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) error {
	limits := multipartLimits{dir: h.config.UploadDir, maxBytes: h.config.UploadMaxBytes}
	if err := limits.parseMultipart(w, r); err != nil {
		return err
	}
	defer r.MultipartForm.RemoveAll()

	avatarPath, err := media.SaveMultipartFile(r, "avatar", limits.dir)
	if err != nil {
		return model.NewInternalError("failed to receive avatar file", err)
	}
	coverPath, err := media.SaveMultipartFile(r, "coverImage", limits.dir)
	if err != nil {
		media.RemoveStaged(avatarPath)
		return model.NewInternalError("failed to receive cover image file", err)
	}
	defer media.RemoveStaged(avatarPath, coverPath)

	user, err := h.service.Register(r.Context(), auth.RegisterInput{
		Fullname:       r.FormValue("fullname"),
		Email:          r.FormValue("email"),
		Username:       r.FormValue("username"),
		Password:       r.FormValue("password"),
		AvatarPath:     avatarPath,
		CoverImagePath: coverPath,
	})
	if err != nil {
		return err
	}
	return writeSuccess(w, http.StatusCreated, toUserResponse(user), "user registered successfully")
}

// Login はパスワードを照合し、トークンをCookieとボディで返す。
// POST /api/v1/users/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	sess, err := h.service.Login(r.Context(), auth.LoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	h.setTokenCookies(w, sess.Tokens)
	return writeSuccess(w, http.StatusOK, loginResponse{
		User:         toUserResponse(sess.User),
		AccessToken:  sess.Tokens.AccessToken,
		RefreshToken: sess.Tokens.RefreshToken,
	}, "user logged in successfully")
}

// Logout は保存済みリフレッシュトークンを消去し、Cookieを削除する。
// POST /api/v1/users/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUserID(r)
	if err != nil {
		return err
	}
	if err := h.service.Logout(r.Context(), userID); err != nil {
		return err
	}

	h.clearTokenCookies(w)
	return writeSuccess(w, http.StatusOK, struct{}{}, "user logged out")
}

// RefreshToken はリフレッシュトークンをローテーションし、新しいトークンペアを返す。
// トークンはrefreshToken Cookie、なければJSONボディのrefreshTokenから取得する。
// POST /api/v1/users/refresh-token
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) error {
	incoming := ""
	if c, err := r.Cookie(middleware.RefreshTokenCookie); err == nil {
		incoming = c.Value
	}
	if incoming == "" && r.Body != nil {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return model.NewValidationError("invalid request body", err.Error())
		}
		incoming = req.RefreshToken
	}

	pair, err := h.service.Refresh(r.Context(), incoming)
	if err != nil {
		return err
	}

	h.setTokenCookies(w, pair)
	return writeSuccess(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "access token refreshed")
}

func (h *AuthHandler) setTokenCookies(w http.ResponseWriter, pair *auth.TokenPair) {
	http.SetCookie(w, h.cookie(middleware.AccessTokenCookie, pair.AccessToken, int(h.config.AccessMaxAge.Seconds())))
	http.SetCookie(w, h.cookie(middleware.RefreshTokenCookie, pair.RefreshToken, int(h.config.RefreshMaxAge.Seconds())))
}

func (h *AuthHandler) clearTokenCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(middleware.AccessTokenCookie, "", -1))
	http.SetCookie(w, h.cookie(middleware.RefreshTokenCookie, "", -1))
}

// cookie はHTTP Onlyのトークン用Cookieを生成する。
func (h *AuthHandler) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
