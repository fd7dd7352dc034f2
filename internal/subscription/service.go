// Package subscription はチャンネルプロフィールの取得と購読の切り替えを提供する。
package subscription

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/chanhub/internal/model"
	"github.com/hitoshi/chanhub/internal/repository"
	"github.com/hitoshi/chanhub/internal/security"
)

// ChannelFinder はチャンネル（ユーザー）の存在確認に使う。
type ChannelFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Service は購読関連のサービス層。
type Service struct {
	subs      repository.SubscriptionRepository
	channels  ChannelFinder
	sanitizer security.ProfileSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(subs repository.SubscriptionRepository, channels ChannelFinder, sanitizer security.ProfileSanitizer) *Service {
	return &Service{subs: subs, channels: channels, sanitizer: sanitizer}
}

// GetChannelProfile はusernameのチャンネルプロフィールを購読集計付きで返す。
// viewerIDが空の場合（未認証）IsSubscribedはfalseになる。
func (s *Service) GetChannelProfile(ctx context.Context, username, viewerID string) (*model.ChannelProfile, error) {
	handle := s.sanitizer.Handle(username)
	if handle == "" {
		return nil, model.NewValidationError("username is missing")
	}

	// 不正な閲覧者IDはuuidキャストで失敗するため匿名扱いにする
	if viewerID != "" {
		if _, err := uuid.Parse(viewerID); err != nil {
			viewerID = ""
		}
	}

	profile, err := s.subs.GetChannelProfile(ctx, handle, viewerID)
	if err != nil {
		return nil, model.NewInternalError("failed to fetch channel profile", err)
	}
	if profile == nil {
		return nil, model.NewNotFoundError(model.ErrCodeChannelNotFound, "channel does not exist")
	}
	return profile, nil
}

// ToggleSubscription はsubscriberIDからchannelIDへの購読を切り替え、切り替え後の状態を返す。
// 購読済みなら解除し、未購読なら作成する。
func (s *Service) ToggleSubscription(ctx context.Context, subscriberID, channelID string) (bool, error) {
	if _, err := uuid.Parse(channelID); err != nil {
		return false, model.NewValidationError("invalid channel id")
	}

	channel, err := s.channels.FindByID(ctx, channelID)
	if err != nil {
		return false, model.NewInternalError("failed to look up channel", err)
	}
	if channel == nil {
		return false, model.NewNotFoundError(model.ErrCodeChannelNotFound, "channel does not exist")
	}

	removed, err := s.subs.Unsubscribe(ctx, subscriberID, channelID)
	if err != nil {
		return false, model.NewInternalError("failed to toggle subscription", err)
	}
	if removed {
		slog.Info("unsubscribed",
			slog.String("subscriber_id", subscriberID),
			slog.String("channel_id", channelID),
		)
		return false, nil
	}

	// 並行リクエストで先に作成されていてもfalseが返るだけで、購読状態は同じ
	if _, err := s.subs.Subscribe(ctx, subscriberID, channelID); err != nil {
		return false, model.NewInternalError("failed to toggle subscription", err)
	}
	slog.Info("subscribed",
		slog.String("subscriber_id", subscriberID),
		slog.String("channel_id", channelID),
	)
	return true, nil
}
