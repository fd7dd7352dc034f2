// Package user はログイン済みユーザーのアカウント管理を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/chanhub/internal/auth"
	"github.com/hitoshi/chanhub/internal/media"
	"github.com/hitoshi/chanhub/internal/model"
	"github.com/hitoshi/chanhub/internal/repository"
	"github.com/hitoshi/chanhub/internal/security"
)

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
// auth.BcryptHasherが満たす。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// Service はユーザー管理のサービス層。
// パスワード変更、アカウント情報・画像の更新を提供する。
type Service struct {
	users     repository.UserRepository
	uploader  media.Uploader
	hasher    PasswordHasher
	sanitizer security.ProfileSanitizer
	recorder  media.UploadRecorder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	uploader media.Uploader,
	hasher PasswordHasher,
	sanitizer security.ProfileSanitizer,
	recorder media.UploadRecorder,
) *Service {
	return &Service{
		users:     users,
		uploader:  uploader,
		hasher:    hasher,
		sanitizer: sanitizer,
		recorder:  recorder,
	}
}

// GetCurrentUser はuserIDのユーザーをサニタイズして返す。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Sanitized(), nil
}

// ChangePassword は現在のパスワードを照合してから新しいパスワードに置き換える。
// 照合に失敗した場合、保存済みハッシュは変更しない。
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return model.NewValidationError("new password is required")
	}
	if len(newPassword) > auth.MaxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("new password must be at most %d bytes", auth.MaxPasswordBytes))
	}

	user, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Compare(user.PasswordHash, oldPassword) {
		return model.NewValidationError("invalid old password")
	}

	hash, err := s.hasher.Hash(newPassword)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return model.NewValidationError(fmt.Sprintf("new password must be at most %d bytes", auth.MaxPasswordBytes))
	}
	if err != nil {
		return model.NewInternalError("failed to change password", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return model.NewInternalError("failed to change password", err)
	}

	slog.Info("password changed", slog.String("user_id", userID))
	return nil
}

// UpdateAccount はfullname、email、usernameを更新する。
// 他ユーザーが使用中のemail/usernameはConflictになる。
func (s *Service) UpdateAccount(ctx context.Context, userID, fullname, email, username string) (*model.User, error) {
	fullname = s.sanitizer.DisplayName(fullname)
	email = s.sanitizer.Email(email)
	username = s.sanitizer.Handle(username)
	if fullname == "" || email == "" || username == "" {
		return nil, model.NewValidationError("all fields are required")
	}

	user, err := s.users.UpdateAccount(ctx, userID, fullname, email, username)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("user with email or username already exists")
		}
		return nil, model.NewInternalError("failed to update account details", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user.Sanitized(), nil
}

// UpdateAvatar はlocalPathの画像をアップロードしてアバターを置き換える。
func (s *Service) UpdateAvatar(ctx context.Context, userID, localPath string) (*model.User, error) {
	if localPath == "" {
		return nil, model.NewValidationError("avatar file is missing")
	}
	url, err := media.UploadImage(ctx, s.uploader, s.recorder, "avatar", localPath)
	if err != nil {
		return nil, err
	}
	return s.finishImageUpdate(s.users.UpdateAvatar(ctx, userID, url))
}

// UpdateCoverImage はlocalPathの画像をアップロードしてカバー画像を置き換える。
func (s *Service) UpdateCoverImage(ctx context.Context, userID, localPath string) (*model.User, error) {
	if localPath == "" {
		return nil, model.NewValidationError("cover image file is missing")
	}
	url, err := media.UploadImage(ctx, s.uploader, s.recorder, "cover_image", localPath)
	if err != nil {
		return nil, err
	}
	return s.finishImageUpdate(s.users.UpdateCoverImage(ctx, userID, url))
}

func (s *Service) finishImageUpdate(user *model.User, err error) (*model.User, error) {
	if err != nil {
		return nil, model.NewInternalError("failed to update image", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user.Sanitized(), nil
}

func (s *Service) load(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewInternalError("failed to look up user", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
