// Package model はドメインモデルを定義する。
package model

import "time"

// Subscription は購読者からチャンネルへの有向エッジを表す。
// SubscriberIDとChannelIDはどちらもUserのIDを参照する。
type Subscription struct {
	ID           string
	SubscriberID string
	ChannelID    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChannelProfile はチャンネルの公開プロフィールと購読集計を表す。
// IsSubscribedは閲覧者基準の値で、未認証の閲覧者では常にfalse。
type ChannelProfile struct {
	ID                        string
	Fullname                  string
	Username                  string
	Email                     string
	Avatar                    string
	CoverImage                string
	SubscribersCount          int
	ChannelsSubscribedToCount int
	IsSubscribed              bool
}
