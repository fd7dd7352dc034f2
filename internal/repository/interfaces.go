// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/chanhub/internal/model"
)

// ErrDuplicate は一意制約（username, email, 購読ペア）に違反した場合に返される。
var ErrDuplicate = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsernameOrEmail はusernameまたはemailが一致するユーザーを取得する。
	// 空文字の条件は無視する。見つからない場合はnilを返す。
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDとタイムスタンプをuserに設定する。
	// username/emailが既存の場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateRefreshToken は保存済みリフレッシュトークンを無条件に置き換える。
	// tokenがnilの場合はトークンを消去する（ログアウト）。
	UpdateRefreshToken(ctx context.Context, id string, token *string, expiresAt *time.Time) error

	// RotateRefreshToken は保存済みトークンがpresentedと一致する場合に限りnextへ置き換える。
	// 置き換えた場合はtrueを返す。並行リフレッシュのうち成功するのは1つだけ。
	RotateRefreshToken(ctx context.Context, id, presented, next string, expiresAt time.Time) (bool, error)

	// UpdatePassword はパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// UpdateAccount はfullname、email、usernameを更新し、更新後のユーザーを返す。
	// 見つからない場合はnil、email/usernameが他ユーザーと重複する場合はErrDuplicateを返す。
	UpdateAccount(ctx context.Context, id, fullname, email, username string) (*model.User, error)

	// UpdateAvatar はavatarのURLを更新し、更新後のユーザーを返す。見つからない場合はnilを返す。
	UpdateAvatar(ctx context.Context, id, url string) (*model.User, error)

	// UpdateCoverImage はcover_imageのURLを更新し、更新後のユーザーを返す。見つからない場合はnilを返す。
	UpdateCoverImage(ctx context.Context, id, url string) (*model.User, error)
}

// SubscriptionRepository は購読データの永続化インターフェース。
type SubscriptionRepository interface {
	// GetChannelProfile はusernameのチャンネルプロフィールを購読集計付きで取得する。
	// viewerIDが空の場合IsSubscribedはfalseになる。見つからない場合はnilを返す。
	GetChannelProfile(ctx context.Context, username, viewerID string) (*model.ChannelProfile, error)

	// Subscribe は購読を作成する。既に購読済みの場合はfalseを返す。
	Subscribe(ctx context.Context, subscriberID, channelID string) (bool, error)

	// Unsubscribe は購読を削除する。購読が存在しなかった場合はfalseを返す。
	Unsubscribe(ctx context.Context, subscriberID, channelID string) (bool, error)
}
