// Package fetcher retrieves linked articles and extracts their readable text.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// textLimit bounds the extracted article text, in runes.
const textLimit = 500

var spaceExpr = regexp.MustCompile(`\s+`)

// Client fetches article pages over HTTP. Every failure is a soft failure
// at the call site: the digest item proceeds without article content.
type Client struct {
	httpClient *http.Client
}

var _ ports.ArticleFetcher = (*Client)(nil)

// New wires an HTTP client; a nil client gets a 10 second timeout default.
func New(client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{httpClient: client}
}

// Fetch downloads the page and extracts its title and readable body text.
func (c *Client) Fetch(ctx context.Context, url string) (domain.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Article{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "NewsDigest/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Article{}, fmt.Errorf("request article: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Article{}, fmt.Errorf("article fetch returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return domain.Article{}, fmt.Errorf("parse document: %w", err)
	}

	return articleFromDocument(doc), nil
}

func articleFromDocument(doc *goquery.Document) domain.Article {
	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	body := doc.Find("body").Text()
	if body == "" {
		body = doc.Text()
	}
	text := strings.TrimSpace(spaceExpr.ReplaceAllString(body, " "))

	runes := []rune(text)
	if len(runes) > textLimit {
		text = strings.TrimSpace(string(runes[:textLimit])) + "..."
	}

	return domain.Article{Title: title, Text: text}
}
