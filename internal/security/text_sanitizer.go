// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は参加者が入力するセッション名・表示名・アイテム本文などの
// プレーンテキストからマークアップを取り除く。全参加者の画面にそのまま表示されるため、
// 保存前に必ず通す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はHTMLタグを全て除去し、前後の空白を取り除いたテキストを返す。
	// 文字参照は元の文字に戻すため、"a & b" はそのまま "a & b" になる。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのStrictPolicyはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// maxSanitizePasses は多重に文字参照化されたマークアップを剥がす回数の上限。
const maxSanitizePasses = 8

// Sanitize はテキストからマークアップを除去する。
// "&lt;b&gt;" のように文字参照で書かれたタグも、元に戻した上で除去する。
// 結果が変わらなくなるまで繰り返すため、出力を再度通しても同じ値になる。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	out := raw
	stable := false
	for i := 0; i < maxSanitizePasses && !stable; i++ {
		next := html.UnescapeString(s.policy.Sanitize(html.UnescapeString(out)))
		stable = next == out
		out = next
	}
	// 上限まで剥がしきれなかった場合は山括弧を残さない
	if !stable {
		out = strings.NewReplacer("<", "", ">", "").Replace(out)
	}
	return strings.TrimSpace(out)
}
