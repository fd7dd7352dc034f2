package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/chanhub/internal/model"
)

// トークン検証・署名のエラー。errors.Isで判定する。
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrSigning      = errors.New("token signing failed")
)

// Claims はアクセストークン・リフレッシュトークンのペイロード。
// リフレッシュトークンはUserIDのみを持つ。
type Claims struct {
	UserID   string `json:"_id"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Fullname string `json:"fullname,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig はアクセス/リフレッシュそれぞれの署名鍵と有効期間。
type TokenConfig struct {
	AccessSecret  string
	AccessExpiry  time.Duration
	RefreshSecret string
	RefreshExpiry time.Duration
}

// TokenPair は発行したトークンの組。
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenService はHS256で署名したJWTを発行・検証する。ストレージには触れない。
type TokenService struct {
	accessSecret  []byte
	accessExpiry  time.Duration
	refreshSecret []byte
	refreshExpiry time.Duration
	now           func() time.Time
}

// NewTokenService はTokenServiceを生成する。
func NewTokenService(cfg TokenConfig) *TokenService {
	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		accessExpiry:  cfg.AccessExpiry,
		refreshSecret: []byte(cfg.RefreshSecret),
		refreshExpiry: cfg.RefreshExpiry,
		now:           time.Now,
	}
}

// AccessExpiry はアクセストークンの有効期間を返す。
func (ts *TokenService) AccessExpiry() time.Duration { return ts.accessExpiry }

// RefreshExpiry はリフレッシュトークンの有効期間を返す。
func (ts *TokenService) RefreshExpiry() time.Duration { return ts.refreshExpiry }

// IssueTokenPair はuserのアクセストークンとリフレッシュトークンを発行する。
// 各トークンは一意のjtiを持つため、同一秒内に発行しても値が衝突しない。
func (ts *TokenService) IssueTokenPair(user *model.User) (*TokenPair, error) {
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrSigning)
	}

	now := ts.now()

	access, err := sign(ts.accessSecret, Claims{
		UserID:           user.ID,
		Email:            user.Email,
		Username:         user.Username,
		Fullname:         user.Fullname,
		RegisteredClaims: registered(now, ts.accessExpiry),
	})
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}

	refreshExpiresAt := now.Add(ts.refreshExpiry)
	refresh, err := sign(ts.refreshSecret, Claims{
		UserID:           user.ID,
		RegisteredClaims: registered(now, ts.refreshExpiry),
	})
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// VerifyAccessToken はアクセストークンを検証してClaimsを返す。
func (ts *TokenService) VerifyAccessToken(token string) (*Claims, error) {
	return ts.verify(token, ts.accessSecret)
}

// VerifyRefreshToken はリフレッシュトークンを検証してClaimsを返す。
func (ts *TokenService) VerifyRefreshToken(token string) (*Claims, error) {
	return ts.verify(token, ts.refreshSecret)
}

func (ts *TokenService) verify(tokenString string, secret []byte) (*Claims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: secret is not configured", ErrTokenInvalid)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	)
	if err != nil {
		// 期限切れは署名が正しい場合でも署名エラーとは区別して返す
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func sign(secret []byte, claims Claims) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: secret is not configured", ErrSigning)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return signed, nil
}

func registered(now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}
