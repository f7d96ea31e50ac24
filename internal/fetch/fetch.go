// Package fetch downloads source URLs and extracts their text.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/briefd/internal/extract"
)

const (
	DefaultTimeout     = 20 * time.Second
	DefaultConcurrency = 8
	maxBodyBytes       = 10 << 20

	userAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	acceptHeader   = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7"
)

// Source is the outcome of fetching one URL. Err is empty on success.
type Source struct {
	URL     string `json:"url"`
	Content string `json:"content"`
	Err     string `json:"error,omitempty"`
}

// OK reports whether the fetch succeeded.
func (s Source) OK() bool { return s.Err == "" }

// Fetcher downloads pages and runs them through an Extractor.
type Fetcher struct {
	client      *http.Client
	extractor   *extract.Extractor
	concurrency int
	logger      *slog.Logger
}

// Config holds Fetcher settings. Zero values select defaults.
type Config struct {
	Timeout     time.Duration
	Concurrency int
	HTTPClient  *http.Client
}

// New creates a Fetcher.
func New(ex *extract.Extractor, cfg Config) *Fetcher {
	if ex == nil {
		ex = extract.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{
		client:      client,
		extractor:   ex,
		concurrency: cfg.Concurrency,
		logger:      slog.Default(),
	}
}

// FetchOne downloads a single URL. It never returns an error value; failures
// are recorded in Source.Err.
func (f *Fetcher) FetchOne(ctx context.Context, rawURL string) Source {
	src := Source{URL: rawURL}
	content, err := f.fetch(ctx, rawURL)
	if err != nil {
		f.logger.Warn("fetch failed", "url", rawURL, "error", err)
		src.Err = err.Error()
		return src
	}
	src.Content = content
	f.logger.Debug("fetched", "url", rawURL, "chars", len(content))
	return src
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	return f.extractor.ContentAt(body, resp.Header.Get("Content-Type"), resp.Request.URL)
}

// FetchMany downloads urls concurrently. The result has one entry per input,
// in input order, and the call as a whole never fails.
func (f *Fetcher) FetchMany(ctx context.Context, urls []string) []Source {
	out := make([]Source, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			out[i] = f.FetchOne(gctx, u)
			return nil
		})
	}
	g.Wait()
	return out
}
