package security

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// httpsURL はimgのsrcとして許可するURLの形式。
var httpsURL = regexp.MustCompile(`^https://[^\s"'<>]+$`)

// Sanitizer は外部ブログ記事のHTMLを表示用に無害化する。
// ポリシーは生成時に一度だけ構築し、以降は並行に利用できる。
type Sanitizer struct {
	content *bluemonday.Policy
	strict  *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
//
// 本文ポリシー:
//   - 許可タグ: p, br, ul, ol, li, blockquote, strong, em, b, i, h2〜h4, span, a, img
//   - aタグ: 絶対URLのみ。target="_blank" と rel="noopener noreferrer" を付与
//   - imgタグ: httpsのsrcとaltのみ
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li", "blockquote",
		"strong", "em", "b", "i", "h2", "h3", "h4", "span",
	)
	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AllowURLSchemes("https", "http")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AllowAttrs("alt").OnElements("img")
	p.AllowAttrs("src").Matching(httpsURL).OnElements("img")

	return &Sanitizer{
		content: p,
		strict:  bluemonday.StrictPolicy(),
	}
}

// SanitizeHTML は本文HTMLを許可リストに従って無害化する。
func (s *Sanitizer) SanitizeHTML(raw string) string {
	return s.content.Sanitize(raw)
}

// PlainText はタグを除去したテキストを返す。
// 連続する空白は1つにまとめ、maxRunesを超える場合は末尾を「…」で切り詰める。
// maxRunesが0以下の場合は切り詰めない。
func (s *Sanitizer) PlainText(raw string, maxRunes int) string {
	// StrictPolicyは実体参照をエスケープしたまま返すため、表示用に戻す
	text := html.UnescapeString(s.strict.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		runes := []rune(text)
		text = string(runes[:maxRunes]) + "…"
	}
	return text
}
