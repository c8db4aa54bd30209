// Package security はアプリケーションのセキュリティ機能を提供する。
//
// LetterSanitizer は手紙本文から全てのHTMLを除去し、
// 保存前の本文をタグを含まないプレーンテキストに正規化する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// LetterSanitizer は手紙本文のサニタイズ機能のインターフェースを定義する。
type LetterSanitizer interface {
	// Sanitize は全てのタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	// script, styleの中身も除去される。' & " などの文字は入力のまま残る。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// letterSanitizer はLetterSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type letterSanitizer struct {
	policy *bluemonday.Policy
}

// NewLetterSanitizer はタグを一切許可しないポリシーのサニタイザーを生成する。
func NewLetterSanitizer() *letterSanitizer {
	return &letterSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグを除去し、bluemondayが付けたHTMLエンティティを文字に戻す。
// 戻り値はHTMLとして埋め込まず、テキストとして扱うこと。
func (s *letterSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
