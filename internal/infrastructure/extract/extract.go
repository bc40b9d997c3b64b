// Package extract turns raw message bodies into digest previews and links.
package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"NewsDigest/internal/domain"
)

// previewLimit bounds the preview text, in runes.
const previewLimit = 280

var (
	hrefExpr = regexp.MustCompile(`(?i)href=["']?(https?://[^"'>\s]+)`)
	urlExpr  = regexp.MustCompile(`https?://[^\s<>"']+`)

	// Newsletter boilerplate that carries no content.
	boilerplateExpr = regexp.MustCompile(`(?i)(view (this email )?in (your )?browser|` +
		`if you are having trouble viewing this email|` +
		`unsubscribe|manage your (subscription|preferences)|privacy policy)`)

	spaceExpr = regexp.MustCompile(`\s+`)
)

// Extract returns the bounded plain-text preview and the first well-formed
// hyperlink of a message. The HTML body is preferred for both; only one
// link per message is ever considered.
func Extract(msg domain.Message) (preview, link string) {
	return Preview(msg.TextBody, msg.HTMLBody), FirstLink(msg.TextBody, msg.HTMLBody)
}

// FirstLink finds the first http(s) hyperlink in body order: HTML href
// attributes first, then bare URLs in the plain-text body. Empty when the
// message carries no link.
func FirstLink(text, html string) string {
	if html != "" {
		if m := hrefExpr.FindStringSubmatch(html); m != nil {
			return trimLink(m[1])
		}
	}
	if text != "" {
		if m := urlExpr.FindString(text); m != "" {
			return trimLink(m)
		}
	}
	return ""
}

// Preview flattens the body to plain text, drops boilerplate lines, and
// truncates to a bounded length.
func Preview(text, html string) string {
	plain := text
	if html != "" {
		if flattened := htmlToText(html); flattened != "" {
			plain = flattened
		}
	}

	var kept []string
	for _, line := range strings.Split(plain, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || boilerplateExpr.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}

	collapsed := spaceExpr.ReplaceAllString(strings.Join(kept, " "), " ")
	collapsed = strings.TrimSpace(collapsed)

	runes := []rune(collapsed)
	if len(runes) <= previewLimit {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:previewLimit])) + "..."
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()
	var b strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		b.WriteString(sel.Text())
	})
	out := b.String()
	if out == "" {
		out = doc.Text()
	}
	return out
}

func trimLink(link string) string {
	return strings.TrimRight(link, ".,;:)]>")
}
