// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザー（チャンネル）を表す。
// PasswordHashとRefreshTokenはAPIレスポンスに含めてはならない。
type User struct {
	ID         string
	Username   string
	Email      string
	Fullname   string
	Avatar     string
	CoverImage string

	PasswordHash string

	// RefreshToken は最後に発行したリフレッシュトークン。ログアウト中はnil。
	RefreshToken          *string
	RefreshTokenExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Sanitized はパスワードハッシュとリフレッシュトークンを除いたコピーを返す。
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Fullname:   u.Fullname,
		Avatar:     u.Avatar,
		CoverImage: u.CoverImage,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// HasRefreshToken は保存済みリフレッシュトークンがtokenと完全一致するかを返す。
func (u *User) HasRefreshToken(token string) bool {
	return u.RefreshToken != nil && token != "" && *u.RefreshToken == token
}
