// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。HTTPステータスへの変換に使われる。
type ErrorKind string

const (
	// KindValidation は必須入力の欠落や不正値。
	KindValidation ErrorKind = "validation"
	// KindUnauthorized はトークンの欠落・不正・期限切れ・再利用、またはパスワード不一致。
	KindUnauthorized ErrorKind = "unauthorized"
	// KindNotFound はエンティティが存在しない。
	KindNotFound ErrorKind = "not_found"
	// KindConflict は一意制約違反。
	KindConflict ErrorKind = "conflict"
	// KindInternal は永続化やトークン署名の予期しない失敗。
	KindInternal ErrorKind = "internal"
)

// APIError は統一エラーフォーマットを表す。
// Messageはクライアントに返し、Errにはログ用の原因を保持する。
type APIError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Errors  []string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error { return e.Err }

// 定義済みエラーコード
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	ErrCodeRefreshTokenReused  = "REFRESH_TOKEN_REUSED"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeChannelNotFound     = "CHANNEL_NOT_FOUND"
	ErrCodeUserExists          = "USER_EXISTS"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string, details ...string) *APIError {
	return &APIError{
		Kind:    KindValidation,
		Code:    ErrCodeValidation,
		Message: message,
		Errors:  details,
	}
}

// NewUnauthorizedError は認証エラーを生成する。causeはログにのみ出力される。
func NewUnauthorizedError(code, message string, cause error) *APIError {
	return &APIError{
		Kind:    KindUnauthorized,
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// NewNotFoundError はエンティティ未検出エラーを生成する。
func NewNotFoundError(code, message string) *APIError {
	return &APIError{
		Kind:    KindNotFound,
		Code:    code,
		Message: message,
	}
}

// NewConflictError は一意制約違反エラーを生成する。
func NewConflictError(message string) *APIError {
	return &APIError{
		Kind:    KindConflict,
		Code:    ErrCodeUserExists,
		Message: message,
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError(message string, cause error) *APIError {
	return &APIError{
		Kind:    KindInternal,
		Code:    ErrCodeInternal,
		Message: message,
		Err:     cause,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return NewNotFoundError(ErrCodeUserNotFound, "user does not exist")
}

// KindOf はerrのErrorKindを返す。APIErrorでない場合はKindInternal。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}
