package preview

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const ellipsis = "…"

var (
	htmlTag = regexp.MustCompile(`<(?:[a-zA-Z][a-zA-Z0-9]*|/[a-zA-Z][a-zA-Z0-9]*)(?:\s[^>]*)?/?>`)

	mdImageOrLink = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	mdRule        = regexp.MustCompile(`(?m)^[ \t]*(?:[-*_][ \t]*){3,}$`)
	mdHeading     = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]*`)
	mdQuote       = regexp.MustCompile(`(?m)^[ \t]{0,3}>[ \t]?`)
	mdBullet      = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+]|\d+[.)])[ \t]+`)
	mdStrongEtc   = strings.NewReplacer("**", "", "__", "", "~~", "", "`", "")
	mdStar        = regexp.MustCompile(`\*([^*\n]+)\*`)
	mdUnderscore  = regexp.MustCompile(`(^|[\s(])_([^_\n]+)_([\s).,!?:;]|$)`)
)

// PlainText reduces raw to a single line of readable text: HTML is reduced to
// its text, markdown markers are dropped, whitespace is collapsed, and the
// result is cut to maxLen runes (maxLen <= 0 keeps everything).
func PlainText(raw string, maxLen int) string {
	s := raw
	if htmlTag.MatchString(s) {
		s = htmlText(s)
	}
	s = StripMarkdown(s)
	s = strings.Join(strings.Fields(s), " ")
	return Truncate(s, maxLen)
}

// htmlText returns the visible text of an HTML fragment. Block boundaries
// become spaces so adjacent paragraphs do not run together.
func htmlText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return htmlTag.ReplaceAllString(fragment, " ")
	}
	doc.Find("script, style, noscript").Remove()
	doc.Find("p, div, br, li, tr, td, th, h1, h2, h3, h4, h5, h6, blockquote, pre").AfterHtml(" ")
	return doc.Text()
}

// StripMarkdown removes common markdown syntax, keeping link text.
func StripMarkdown(s string) string {
	s = mdImageOrLink.ReplaceAllString(s, "$1")
	s = mdRule.ReplaceAllString(s, "")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdQuote.ReplaceAllString(s, "")
	s = mdBullet.ReplaceAllString(s, "")
	s = mdStrongEtc.Replace(s)
	s = mdStar.ReplaceAllString(s, "$1")
	s = mdUnderscore.ReplaceAllString(s, "$1$2$3")
	return s
}

// Truncate cuts s to at most maxLen runes. When anything is removed the last
// kept rune is replaced by an ellipsis.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:maxLen-1]), " ") + ellipsis
}
