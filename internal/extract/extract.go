// Package extract turns fetched documents into plain text suitable for an
// LLM prompt: chrome is stripped, the main content region is located, and
// boilerplate lines are filtered out.
package extract

import (
	"bytes"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

const (
	// DefaultMaxLength caps extracted text, in runes.
	DefaultMaxLength = 80000

	minRegionRunes  = 300
	minHeadlineText = 500
)

// Extractor holds extraction settings. The zero value is not usable; call New.
type Extractor struct {
	MaxLength int
	Noise     *NoiseFilter
	logger    *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxLength sets the output cap in runes.
func WithMaxLength(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.MaxLength = n
		}
	}
}

// WithNoiseFilter replaces the default line filter.
func WithNoiseFilter(f *NoiseFilter) Option {
	return func(e *Extractor) {
		if f != nil {
			e.Noise = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New creates an Extractor with the default noise filter and length cap.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		MaxLength: DefaultMaxLength,
		Noise:     DefaultNoiseFilter(),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// HTML extracts readable text from an HTML document.
func (e *Extractor) HTML(src string) string {
	return e.Page(src, nil)
}

// Page is HTML with the document's own URL, which lets the readability
// fallback resolve relative links. pageURL may be nil.
func (e *Extractor) Page(src string, pageURL *url.URL) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		// html.Parse only fails on reader errors.
		e.logger.Warn("parsing html failed", "error", err)
		return e.finish(src)
	}
	stripChrome(doc)

	if text, ok := headlines(doc); ok {
		return e.finish(text)
	}
	if region := mainRegion(doc); region != "" {
		return e.finish(region)
	}
	if text := e.readable(doc, pageURL); text != "" {
		return e.finish(text)
	}
	return e.finish(render(doc))
}

// readable runs go-readability over the already cleaned document.
func (e *Extractor) readable(doc *html.Node, pageURL *url.URL) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return ""
	}
	if pageURL == nil {
		pageURL = &url.URL{Scheme: "http", Host: "localhost", Path: "/"}
	}
	article, err := readability.FromReader(&buf, pageURL)
	if err != nil {
		e.logger.Debug("readability fallback failed", "error", err)
		return ""
	}
	text := strings.TrimSpace(article.TextContent)
	if utf8.RuneCountInString(text) <= minRegionRunes {
		return ""
	}
	if title := strings.TrimSpace(article.Title); title != "" && !strings.HasPrefix(text, title) {
		text = title + "\n\n" + text
	}
	return text
}

func (e *Extractor) finish(text string) string {
	return truncate(e.Noise.Clean(text), e.MaxLength)
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
