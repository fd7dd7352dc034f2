// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer はユーザーが入力したプロフィール項目を正規化し、
// 表示名などにHTMLが混入しないようにする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizer はプロフィール入力値の正規化インターフェース。
type ProfileSanitizer interface {
	// DisplayName は表示名からHTMLを除去し、前後の空白と連続空白を詰める。
	DisplayName(s string) string
	// Handle はusernameを小文字化し前後の空白を除去する。
	Handle(s string) string
	// Email はメールアドレスを小文字化し前後の空白を除去する。
	Email(s string) string
}

// profileSanitizer はbluemondayのStrictPolicyで全タグを除去する実装。
// bluemonday.Policyは並行利用に対して安全。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() ProfileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxUnescapeRounds は多重にエンティティ化されたマークアップを剥がす回数の上限。
const maxUnescapeRounds = 8

// DisplayName はタグ除去とエンティティ復元を値が変化しなくなるまで繰り返す。
// "&lt;script&gt;" のようにエンコードされたタグも復元後に除去される。
func (s *profileSanitizer) DisplayName(in string) string {
	out := in
	converged := false
	for i := 0; i < maxUnescapeRounds; i++ {
		// StrictPolicyは&等をエスケープするため、プレーンテキストに戻す
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			converged = true
			break
		}
		out = next
	}
	if !converged {
		out = strings.NewReplacer("<", "", ">", "").Replace(out)
	}
	return strings.Join(strings.Fields(out), " ")
}

func (s *profileSanitizer) Handle(in string) string {
	return strings.ToLower(strings.TrimSpace(in))
}

func (s *profileSanitizer) Email(in string) string {
	return strings.ToLower(strings.TrimSpace(in))
}
