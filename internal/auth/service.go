// Package auth はユーザー登録、ログイン/ログアウト、トークン発行とローテーションを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/chanhub/internal/media"
	"github.com/hitoshi/chanhub/internal/metrics"
	"github.com/hitoshi/chanhub/internal/model"
	"github.com/hitoshi/chanhub/internal/repository"
	"github.com/hitoshi/chanhub/internal/security"
)

// RegisterInput はユーザー登録の入力。画像はハンドラーがステージングしたローカルパス。
type RegisterInput struct {
	Fullname       string
	Email          string
	Username       string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

// LoginInput はログインの入力。UsernameとEmailの少なくとも一方が必要。
type LoginInput struct {
	Username string
	Email    string
	Password string
}

// Session はログイン結果。Userはサニタイズ済み。
type Session struct {
	User   *model.User
	Tokens *TokenPair
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	tokens    *TokenService
	hasher    PasswordHasher
	uploader  media.Uploader
	sanitizer security.ProfileSanitizer
	recorder  metrics.AuthRecorder
}

// NewService はServiceを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewService(
	users repository.UserRepository,
	tokens *TokenService,
	hasher PasswordHasher,
	uploader media.Uploader,
	sanitizer security.ProfileSanitizer,
	recorder metrics.AuthRecorder,
) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		users:     users,
		tokens:    tokens,
		hasher:    hasher,
		uploader:  uploader,
		sanitizer: sanitizer,
		recorder:  recorder,
	}
}

// Register は新規ユーザーを作成し、サニタイズ済みのユーザーを返す。
// アバター画像は必須、カバー画像は任意。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	fullname := s.sanitizer.DisplayName(in.Fullname)
	email := s.sanitizer.Email(in.Email)
	username := s.sanitizer.Handle(in.Username)

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"fullname", fullname},
		{"email", email},
		{"username", username},
		{"password", strings.TrimSpace(in.Password)},
	} {
		if f.value == "" {
			missing = append(missing, f.name+" is required")
		}
	}
	if len(missing) > 0 {
		return nil, model.NewValidationError("all fields are required", missing...)
	}
	if len(in.Password) > MaxPasswordBytes {
		return nil, passwordTooLongError()
	}

	existing, err := s.users.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, model.NewInternalError("something went wrong while registering the user", err)
	}
	if existing != nil {
		return nil, model.NewConflictError("user with email or username already exists")
	}

	if in.AvatarPath == "" {
		return nil, model.NewValidationError("avatar file is required")
	}
	avatarURL, err := media.UploadImage(ctx, s.uploader, s.recorder, "avatar", in.AvatarPath)
	if err != nil {
		return nil, err
	}

	// カバー画像は任意のため、失敗しても登録は続行する
	var coverURL string
	if in.CoverImagePath != "" {
		if coverURL, err = media.UploadImage(ctx, s.uploader, s.recorder, "cover_image", in.CoverImagePath); err != nil {
			slog.Warn("cover image upload failed, continuing without it",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
			coverURL = ""
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if errors.Is(err, ErrPasswordTooLong) {
		return nil, passwordTooLongError()
	}
	if err != nil {
		return nil, model.NewInternalError("something went wrong while registering the user", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		Fullname:     fullname,
		Avatar:       avatarURL,
		CoverImage:   coverURL,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("user with email or username already exists")
		}
		return nil, model.NewInternalError("something went wrong while registering the user", err)
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user.Sanitized(), nil
}

// Login はパスワードを照合し、トークンペアを発行してリフレッシュトークンを保存する。
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	username := s.sanitizer.Handle(in.Username)
	email := s.sanitizer.Email(in.Email)
	if username == "" && email == "" {
		return nil, model.NewValidationError("username or email is required")
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, model.NewInternalError("failed to look up user", err)
	}
	if user == nil {
		s.recorder.RecordLogin(false)
		return nil, model.NewUserNotFoundError()
	}

	if !s.hasher.Compare(user.PasswordHash, in.Password) {
		s.recorder.RecordLogin(false)
		return nil, model.NewUnauthorizedError(model.ErrCodeInvalidCredentials, "invalid user credentials", nil)
	}

	pair, err := s.issueAndStore(ctx, user)
	if err != nil {
		return nil, err
	}

	s.recorder.RecordLogin(true)
	slog.Info("user logged in", slog.String("user_id", user.ID))

	return &Session{User: user.Sanitized(), Tokens: pair}, nil
}

// Logout は保存済みのリフレッシュトークンを消去する。
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.users.UpdateRefreshToken(ctx, userID, nil, nil); err != nil {
		return model.NewInternalError("failed to log out", err)
	}
	slog.Info("user logged out", slog.String("user_id", userID))
	return nil
}

// Refresh はリフレッシュトークンを検証し、新しいトークンペアへローテーションする。
// 提示されたトークンは保存済みの値と一致しなければならず、一度使うと無効になる。
func (s *Service) Refresh(ctx context.Context, incoming string) (*TokenPair, error) {
	if incoming == "" {
		s.recorder.RecordTokenRefresh(metrics.RefreshRejected)
		return nil, model.NewUnauthorizedError(model.ErrCodeUnauthorized, "unauthorized request", nil)
	}

	claims, err := s.tokens.VerifyRefreshToken(incoming)
	if err != nil {
		s.recorder.RecordTokenRefresh(metrics.RefreshRejected)
		return nil, model.NewUnauthorizedError(model.ErrCodeInvalidRefreshToken, "invalid refresh token", err)
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, model.NewInternalError("failed to look up user", err)
	}
	if user == nil {
		s.recorder.RecordTokenRefresh(metrics.RefreshRejected)
		return nil, model.NewUnauthorizedError(model.ErrCodeInvalidRefreshToken, "invalid refresh token", nil)
	}

	if !user.HasRefreshToken(incoming) {
		return nil, s.replayed(user.ID)
	}

	pair, err := s.tokens.IssueTokenPair(user)
	if err != nil {
		return nil, model.NewInternalError("something went wrong while generating refresh and access token", err)
	}

	rotated, err := s.users.RotateRefreshToken(ctx, user.ID, incoming, pair.RefreshToken, pair.RefreshExpiresAt)
	if err != nil {
		return nil, model.NewInternalError("something went wrong while generating refresh and access token", err)
	}
	if !rotated {
		// 並行リフレッシュに先を越された
		return nil, s.replayed(user.ID)
	}

	s.recorder.RecordTokenRefresh(metrics.RefreshRotated)
	return pair, nil
}

func (s *Service) replayed(userID string) error {
	s.recorder.RecordTokenRefresh(metrics.RefreshReplayed)
	slog.Warn("refresh token replay rejected", slog.String("user_id", userID))
	return model.NewUnauthorizedError(model.ErrCodeRefreshTokenReused, "refresh token is expired or used", nil)
}

// issueAndStore はトークンペアを発行し、リフレッシュトークンのみを保存する。
func (s *Service) issueAndStore(ctx context.Context, user *model.User) (*TokenPair, error) {
	pair, err := s.tokens.IssueTokenPair(user)
	if err != nil {
		return nil, model.NewInternalError("something went wrong while generating refresh and access token", err)
	}
	expiresAt := pair.RefreshExpiresAt
	if err := s.users.UpdateRefreshToken(ctx, user.ID, &pair.RefreshToken, &expiresAt); err != nil {
		return nil, model.NewInternalError("something went wrong while generating refresh and access token", err)
	}
	return pair, nil
}

// passwordTooLongError はbcryptの上限を超えるパスワードに対する入力エラー。
func passwordTooLongError() *model.APIError {
	return model.NewValidationError(fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
}
