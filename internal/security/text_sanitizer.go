package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はスクレイプしたセルの文字列からマークアップを取り除き、プレーンテキストにする。
// 科目名はそのまま通知本文とRSSに載るため、保存前に必ず通す。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizerの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は全てのタグを除去し、前後の空白を取り除く。内部の空白は変更しない。
// StrictPolicyがエスケープした文字実体参照は元の文字に戻す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.TrimSpace(stripped)
}
