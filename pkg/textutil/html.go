package textutil

import (
	"strings"

	"golang.org/x/net/html"
)

var breakingTags = map[string]struct{}{
	"br": {}, "p": {}, "div": {}, "li": {}, "tr": {}, "td": {}, "th": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
}

// StripHTML reduces an HTML fragment to its visible text. Entities are decoded,
// script/style bodies dropped, and whitespace runs collapsed to a single space.
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapseSpaces(fragment)
	}

	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseSpaces(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if _, ok := breakingTags[tag]; ok {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if _, ok := breakingTags[tag]; ok {
				b.WriteByte(' ')
			}
		}
	}
}

// Truncate cuts s to limit runes and appends suffix when anything was removed.
func Truncate(s string, limit int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + suffix
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
