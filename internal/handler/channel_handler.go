package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chanhub/internal/middleware"
	"github.com/hitoshi/chanhub/internal/model"
)

// ChannelServiceInterface はチャンネルハンドラーが必要とするサービスインターフェース。
type ChannelServiceInterface interface {
	GetChannelProfile(ctx context.Context, username, viewerID string) (*model.ChannelProfile, error)
	ToggleSubscription(ctx context.Context, subscriberID, channelID string) (bool, error)
}

// ChannelHandler はチャンネルプロフィールと購読のHTTPハンドラー。
type ChannelHandler struct {
	service ChannelServiceInterface
}

// NewChannelHandler はChannelHandlerを生成する。
func NewChannelHandler(service ChannelServiceInterface) *ChannelHandler {
	return &ChannelHandler{service: service}
}

// channelProfileResponse はチャンネルプロフィールのAPIレスポンス。
type channelProfileResponse struct {
	ID                        string `json:"_id"`
	Fullname                  string `json:"fullname"`
	Username                  string `json:"username"`
	SubscribersCount          int    `json:"subscribersCount"`
	ChannelsSubscribedToCount int    `json:"channelsSubscribedToCount"`
	IsSubscribed              bool   `json:"isSubscribed"`
	Avatar                    string `json:"avatar"`
	CoverImage                string `json:"coverImage"`
	Email                     string `json:"email"`
}

type toggleSubscriptionResponse struct {
	Subscribed bool `json:"subscribed"`
}

// GetChannelProfile はusernameのチャンネルプロフィールを返す。
// 認証は任意で、未認証の場合isSubscribedはfalseになる。
// GET /api/v1/users/channel/{username}
func (h *ChannelHandler) GetChannelProfile(w http.ResponseWriter, r *http.Request) error {
	viewerID, _ := middleware.UserIDFromContext(r.Context())

	p, err := h.service.GetChannelProfile(r.Context(), chi.URLParam(r, "username"), viewerID)
	if err != nil {
		return err
	}
	return writeSuccess(w, http.StatusOK, channelProfileResponse{
		ID:                        p.ID,
		Fullname:                  p.Fullname,
		Username:                  p.Username,
		SubscribersCount:          p.SubscribersCount,
		ChannelsSubscribedToCount: p.ChannelsSubscribedToCount,
		IsSubscribed:              p.IsSubscribed,
		Avatar:                    p.Avatar,
		CoverImage:                p.CoverImage,
		Email:                     p.Email,
	}, "user channel fetched successfully")
}

// ToggleSubscription はログイン中のユーザーからチャンネルへの購読を切り替える。
// POST /api/v1/users/subscriptions/{channelID}
func (h *ChannelHandler) ToggleSubscription(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUserID(r)
	if err != nil {
		return err
	}
	subscribed, err := h.service.ToggleSubscription(r.Context(), userID, chi.URLParam(r, "channelID"))
	if err != nil {
		return err
	}

	message := "unsubscribed successfully"
	if subscribed {
		message = "subscribed successfully"
	}
	return writeSuccess(w, http.StatusOK, toggleSubscriptionResponse{Subscribed: subscribed}, message)
}
