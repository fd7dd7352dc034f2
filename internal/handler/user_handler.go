package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/chanhub/internal/media"
	"github.com/hitoshi/chanhub/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetCurrentUser(ctx context.Context, userID string) (*model.User, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	UpdateAccount(ctx context.Context, userID, fullname, email, username string) (*model.User, error)
	UpdateAvatar(ctx context.Context, userID, localPath string) (*model.User, error)
	UpdateCoverImage(ctx context.Context, userID, localPath string) (*model.User, error)
}

// UserHandler はログイン済みユーザーのアカウント管理HTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	limits  multipartLimits
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, uploadDir string, uploadMaxBytes int64) *UserHandler {
	return &UserHandler{
		service: service,
		limits:  multipartLimits{dir: uploadDir, maxBytes: uploadMaxBytes},
	}
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type updateAccountRequest struct {
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// CurrentUser はログイン中のユーザーを返す。
// GET /api/v1/users/current-user
func (h *UserHandler) CurrentUser(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUserID(r)
	if err != nil {
		return err
	}
	user, err := h.service.GetCurrentUser(r.Context(), userID)
	if err != nil {
		return err
	}
	return writeSuccess(w, http.StatusOK, toUserResponse(user), "current user fetched successfully")
}

// ChangePassword は現在のパスワードを確認してから変更する。
// POST /api/v1/users/change-password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUserID(r)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := h.service.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		return err
	}
	return writeSuccess(w, http.StatusOK, struct{}{}, "password changed successfully")
}

// UpdateAccount はfullname、email、usernameを更新する。
// PATCH /api/v1/users/update-account
func (h *UserHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUserID(r)
	if err != nil {
		return err
	}
	var req updateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	user, err := h.service.UpdateAccount(r.Context(), userID, req.Fullname, req.Email, req.Username)
	if err != nil {
		return err
	}
	return writeSuccess(w, http.StatusOK, toUserResponse(user), "account details updated successfully")
}

// UpdateAvatar はアバター画像を差し替える。
// PATCH /api/v1/users/update-avatar
func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) error {
	return h.updateImage(w, r, "avatar", h.service.UpdateAvatar, "avatar image updated successfully")
}

// UpdateCoverImage はカバー画像を差し替える。
// PATCH /api/v1/users/update-cover-image
func (h *UserHandler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) error {
	return h.updateImage(w, r, "coverImage", h.service.UpdateCoverImage, "cover image updated successfully")
}

func (h *UserHandler) updateImage(
	w http.ResponseWriter,
	r *http.Request,
	field string,
	update func(ctx context.Context, userID, localPath string) (*model.User, error),
	message string,
) error {
	userID, err := currentUserID(r)
	if err != nil {
		return err
	}
	if err := h.limits.parseMultipart(w, r); err != nil {
		return err
	}
	defer r.MultipartForm.RemoveAll()

	path, err := media.SaveMultipartFile(r, field, h.limits.dir)
	if err != nil {
		return model.NewInternalError("failed to receive image file", err)
	}
	defer media.RemoveStaged(path)

	user, err := update(r.Context(), userID, path)
	if err != nil {
		return err
	}
	return writeSuccess(w, http.StatusOK, toUserResponse(user), message)
}
