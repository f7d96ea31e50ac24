// Package search queries the DuckDuckGo HTML endpoint for web results.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

const (
	DefaultEndpoint   = "https://html.duckduckgo.com/html/"
	DefaultMaxResults = 5
	defaultTimeout    = 15 * time.Second

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var (
	resultSel  = cascadia.MustCompile(".result")
	linkSel    = cascadia.MustCompile("a.result__a")
	snippetSel = cascadia.MustCompile(".result__snippet")
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client searches the web.
type Client struct {
	endpoint   string
	maxResults int
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client. Empty endpoint and non-positive maxResults select
// defaults.
func New(endpoint string, maxResults int) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Client{
		endpoint:   endpoint,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
}

// Search returns up to maxResults hits in provider order. Any failure yields
// an empty slice.
func (c *Client) Search(ctx context.Context, query string) []Result {
	results, err := c.search(ctx, query)
	if err != nil {
		c.logger.Warn("web search failed", "query", query, "error", err)
		return []Result{}
	}
	return results
}

func (c *Client) search(ctx context.Context, query string) ([]Result, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing results page: %w", err)
	}
	return parse(doc, c.maxResults), nil
}

// parse pairs each link with the snippet in the same result block. Pages
// without result blocks fall back to zipping links and snippets by position.
func parse(doc *html.Node, max int) []Result {
	results := []Result{}

	blocks := resultSel.MatchAll(doc)
	if len(blocks) > 0 {
		for _, b := range blocks {
			if len(results) == max {
				break
			}
			a := linkSel.MatchFirst(b)
			if a == nil {
				continue
			}
			r, ok := newResult(a)
			if !ok {
				continue
			}
			if s := snippetSel.MatchFirst(b); s != nil {
				r.Snippet = text(s)
			}
			results = append(results, r)
		}
		return results
	}

	var links []Result
	for _, a := range linkSel.MatchAll(doc) {
		if r, ok := newResult(a); ok {
			links = append(links, r)
		}
	}
	snippets := snippetSel.MatchAll(doc)
	for i, r := range links {
		if i == max {
			break
		}
		if i < len(snippets) {
			r.Snippet = text(snippets[i])
		}
		results = append(results, r)
	}
	return results
}

func newResult(a *html.Node) (Result, bool) {
	title := text(a)
	link := unwrap(attr(a, "href"))
	if title == "" || !(strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://")) {
		return Result{}, false
	}
	return Result{Title: title, URL: link}, true
}

// unwrap resolves DuckDuckGo redirect links (//duckduckgo.com/l/?uddg=...).
func unwrap(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// FormatContext renders results as numbered source blocks for a prompt.
func FormatContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[Source %d] %s\nURL: %s\n%s", i+1, r.Title, r.URL, r.Snippet)
	}
	return strings.Join(blocks, "\n\n")
}
