package security

import (
	"html"
	"strings"
	"testing"
)

func TestProfileSanitizer_DisplayName(t *testing.T) {
	s := NewProfileSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Ana Lopez", "Ana Lopez"},
		{"前後と連続の空白を詰める", "  Ana   Lopez \n", "Ana Lopez"},
		{"scriptタグは内容ごと除去", "<script>alert(1)</script>Ana", "Ana"},
		{"装飾タグは除去しテキストを残す", "<b>Ana</b> <i>L</i>", "Ana L"},
		{"アンパサンドはエスケープしない", "Tom & Jerry", "Tom & Jerry"},
		{"on属性付きタグも除去", `<img src=x onerror=alert(1)>Bob`, "Bob"},
		{"エンコードされたscriptタグも除去", "&lt;script&gt;alert(1)&lt;/script&gt;", ""},
		{"エンコードされた装飾タグはテキストを残す", "&lt;b&gt;Ana&lt;/b&gt;", "Ana"},
		{"二重エンコードも除去", "&amp;lt;script&amp;gt;x&amp;lt;/script&amp;gt;Bob", "Bob"},
		{"比較記号のテキストは残す", "1 &lt; 2", "1 < 2"},
		{"空文字", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.DisplayName(tt.input); got != tt.want {
				t.Errorf("DisplayName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestProfileSanitizer_HandleAndEmail(t *testing.T) {
	s := NewProfileSanitizer()

	if got := s.Handle("  Ana_Dev "); got != "ana_dev" {
		t.Errorf("Handle() = %q, want %q", got, "ana_dev")
	}
	if got := s.Email(" A@X.com "); got != "a@x.com" {
		t.Errorf("Email() = %q, want %q", got, "a@x.com")
	}
}

// TestProfileSanitizer_Idempotent は同一入力に対して常に同一出力を返すことを検証する。
func TestProfileSanitizer_Idempotent(t *testing.T) {
	s := NewProfileSanitizer()
	in := "<em>Ana</em> &amp; Co"

	first := s.DisplayName(in)
	second := s.DisplayName(first)
	if first != second {
		t.Errorf("not idempotent: %q then %q", first, second)
	}
}

func TestProfileSanitizer_DisplayName_NeverReturnsMarkup(t *testing.T) {
	s := NewProfileSanitizer()
	in := "<img src=x onerror=alert(1)>"
	for i := 0; i < 12; i++ {
		in = html.EscapeString(in)
	}

	got := s.DisplayName(in)
	if strings.ContainsAny(got, "<>") {
		t.Errorf("DisplayName() = %q, want no angle brackets", got)
	}
}
