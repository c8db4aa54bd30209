package security

import (
	"strings"
	"testing"
)

// TestSanitize_StripsTags は全てのタグが除去されテキストが残ることを検証する。
func TestSanitize_StripsTags(t *testing.T) {
	sanitizer := NewLetterSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキスト", "ありがとう！", "ありがとう！"},
		{"強調タグ", "<b>いつも</b>ありがとう", "いつもありがとう"},
		{"段落タグ", "<p>一行目</p><p>二行目</p>", "一行目二行目"},
		{"リンク", `<a href="https://example.com">見てね</a>`, "見てね"},
		{"前後の空白", "  \n こんにちは \t ", "こんにちは"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_RemovesScriptContent はscriptやstyleの中身ごと除去されることを検証する。
func TestSanitize_RemovesScriptContent(t *testing.T) {
	sanitizer := NewLetterSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"scriptタグ", `<script>alert('xss')</script>こんにちは`, "こんにちは"},
		{"styleタグ", `<style>body{display:none}</style>元気？`, "元気？"},
		{"タグのみ", `<script>alert(1)</script>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_XSSPayloads は典型的なXSSペイロードが無害化されることを検証する。
func TestSanitize_XSSPayloads(t *testing.T) {
	sanitizer := NewLetterSanitizer()

	payloads := []string{
		`<svg onload="alert('xss')">`,
		`<img src="x" onerror="alert('xss')">`,
		`<a href="javascript:alert('xss')">クリック</a>`,
		`<p OnClick="alert('xss')">テスト</p>`,
		`<iframe src="https://evil.example.com"></iframe>`,
	}

	for _, input := range payloads {
		t.Run(input, func(t *testing.T) {
			got := strings.ToLower(sanitizer.Sanitize(input))
			for _, absent := range []string{"<", "onload", "onerror", "onclick", "javascript:", "iframe"} {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, should NOT contain %q", input, got, absent)
				}
			}
		})
	}
}

// TestSanitize_Idempotent は同一入力に対して同一出力を返すことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewLetterSanitizer()

	input := `<div><b>また</b>会おうね <script>x()</script></div>`
	first := sanitizer.Sanitize(input)
	second := sanitizer.Sanitize(input)

	if first != second {
		t.Errorf("Sanitize is not deterministic: %q != %q", first, second)
	}
}

// TestSanitize_KeepsSpecialCharacters は記号がエンティティ化されずに残ることを検証する。
func TestSanitize_KeepsSpecialCharacters(t *testing.T) {
	sanitizer := NewLetterSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"アポストロフィとアンパサンド", `I'm & "x"`, `I'm & "x"`},
		{"タグの外の記号", `Tom & Jerry <i>"forever"</i>`, `Tom & Jerry "forever"`},
		{"ハートの顔文字", "また会おう <3", "また会おう <3"},
		{"エンティティ入力", "&lt;3 &amp; 5 &gt; 4", "<3 & 5 > 4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestLetterSanitizerInterface はLetterSanitizerインターフェースの適合を検証する。
func TestLetterSanitizerInterface(t *testing.T) {
	var _ LetterSanitizer = NewLetterSanitizer()
}
