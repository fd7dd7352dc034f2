package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/chanhub/internal/model"
)

// channelProfileQuery はチャンネルと購読集計を1クエリで取得する。
// $2はUUIDまたはNULL（未認証）。NULLの場合bool_orはNULLとなりfalseに丸める。
const channelProfileQuery = `
SELECT u.id, u.fullname, u.username, u.email, u.avatar, u.cover_image,
       subs.cnt, subs.viewer_subscribed, fol.cnt
FROM users u
LEFT JOIN LATERAL (
    SELECT COUNT(*) AS cnt,
           COALESCE(bool_or(s.subscriber_id = $2::uuid), false) AS viewer_subscribed
    FROM subscriptions s
    WHERE s.channel_id = u.id
) subs ON true
LEFT JOIN LATERAL (
    SELECT COUNT(*) AS cnt
    FROM subscriptions s
    WHERE s.subscriber_id = u.id
) fol ON true
WHERE u.username = $1`

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// GetChannelProfile はチャンネルプロフィールを購読集計付きで取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) GetChannelProfile(ctx context.Context, username, viewerID string) (*model.ChannelProfile, error) {
	viewer := sql.NullString{String: viewerID, Valid: viewerID != ""}

	p := &model.ChannelProfile{}
	err := r.db.QueryRowContext(ctx, channelProfileQuery, username, viewer).Scan(
		&p.ID, &p.Fullname, &p.Username, &p.Email, &p.Avatar, &p.CoverImage,
		&p.SubscribersCount, &p.IsSubscribed, &p.ChannelsSubscribedToCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("チャンネルプロフィールの取得に失敗しました: %w", err)
	}
	return p, nil
}

// Subscribe は購読を作成する。既に購読済みの場合はfalseを返す。
func (r *PostgresSubscriptionRepo) Subscribe(ctx context.Context, subscriberID, channelID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (subscriber_id, channel_id)
		 VALUES ($1, $2)
		 ON CONFLICT (subscriber_id, channel_id) DO NOTHING`,
		subscriberID, channelID,
	)
	if err != nil {
		return false, fmt.Errorf("購読の作成に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// Unsubscribe は購読を削除する。購読が存在しなかった場合はfalseを返す。
func (r *PostgresSubscriptionRepo) Unsubscribe(ctx context.Context, subscriberID, channelID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscriber_id = $1 AND channel_id = $2`,
		subscriberID, channelID,
	)
	if err != nil {
		return false, fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
