// Package sanitize reduces untrusted HTML to a small allow-list of inline and
// structural tags. Anything outside the allow-list is escaped rather than
// stripped, so the text stays visible to the end user instead of silently
// vanishing.
package sanitize

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

var allowedTags = map[string]bool{
	"p":      true,
	"br":     true,
	"a":      true,
	"em":     true,
	"strong": true,
	"b":      true,
	"i":      true,
	"u":      true,
	"span":   true,
}

// HTML sanitizes a fragment of untrusted HTML. Allowed tags are re-rendered
// with their attributes filtered (only http/https/mailto hyperlinks survive
// on <a>); disallowed tags are escaped in place; comments and doctypes are
// dropped.
func HTML(input string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(input))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or unparsable trailing garbage, either way we are done
			return b.String()
		case html.TextToken:
			b.WriteString(html.EscapeString(z.Token().Data))
		case html.StartTagToken:
			writeTag(&b, z.Token(), false)
		case html.EndTagToken:
			tok := z.Token()
			if allowedTags[tok.Data] {
				b.WriteString("</" + tok.Data + ">")
			} else {
				b.WriteString(html.EscapeString(tok.String()))
			}
		case html.SelfClosingTagToken:
			writeTag(&b, z.Token(), true)
		case html.CommentToken, html.DoctypeToken:
			// not worth keeping, even escaped
		}
	}
}

func writeTag(b *strings.Builder, tok html.Token, selfClosing bool) {
	if !allowedTags[tok.Data] {
		b.WriteString(html.EscapeString(tok.String()))
		return
	}
	b.WriteString("<" + tok.Data)
	for _, attr := range tok.Attr {
		if tok.Data == "a" && attr.Key == "href" && safeHref(attr.Val) {
			b.WriteString(` href="` + html.EscapeString(attr.Val) + `"`)
		}
	}
	if selfClosing {
		b.WriteString("/>")
	} else {
		b.WriteString(">")
	}
}

func safeHref(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "mailto":
		return true
	}
	return false
}
