// Package channel delivers long text to messaging providers in numbered,
// size-bounded chunks.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/kalambet/briefd/internal/chunker"
)

var (
	// ErrMissingCredential is reported when a sender has no usable token.
	ErrMissingCredential = errors.New("missing credential")
	// ErrMissingDestination is reported when a sender has no chat or target id.
	ErrMissingDestination = errors.New("missing destination")
)

// Message is one logical message to deliver.
type Message struct {
	Title string
	Text  string
	// AlreadyTitled suppresses the "[title]" header on single-chunk sends
	// because the caller formatted it already.
	AlreadyTitled bool
}

// Outcome reports how far a chunked send got.
type Outcome struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	SentCount   int    `json:"sentCount"`
	TotalChunks int    `json:"totalChunks"`

	// Err carries the typed cause for callers that need errors.Is.
	Err error `json:"-"`
}

func failed(err error) Outcome {
	return Outcome{Error: err.Error(), Err: err}
}

// maxHeaderTitle caps the title shown in chunk headers, in runes.
const maxHeaderTitle = 200

// deliverFunc sends one already-labelled chunk.
type deliverFunc func(ctx context.Context, text string) error

// sequencer splits a message and delivers the chunks in order, spacing them
// with a rate limiter so a cancelled context interrupts the wait.
type sequencer struct {
	opts   chunker.Options
	delay  time.Duration
	logger *slog.Logger
	name   string
}

func (s sequencer) send(ctx context.Context, msg Message, deliver deliverFunc) Outcome {
	if strings.TrimSpace(msg.Text) == "" {
		return failed(errors.New("message text is empty"))
	}

	parts := s.split(msg)
	total := len(parts)
	limiter := rate.NewLimiter(rate.Every(s.delay), 1)

	out := Outcome{TotalChunks: total}
	for i, part := range parts {
		if err := limiter.Wait(ctx); err != nil {
			return partial(out, i, total, fmt.Errorf("send interrupted: %w", ctx.Err()))
		}

		if err := deliver(ctx, label(msg, part, i, total)); err != nil {
			s.logger.Warn("chunk delivery failed", "channel", s.name, "part", i+1, "total", total, "error", err)
			return partial(out, i, total, err)
		}
		out.SentCount++
	}

	out.Success = true
	s.logger.Debug("message delivered", "channel", s.name, "chunks", total)
	return out
}

// split chunks the text so that every labelled chunk, marker included, stays
// within the channel limit. The marker width depends on the chunk count, so
// the split is repeated until the count's digit width settles.
func (s sequencer) split(msg Message) []string {
	if s.opts.Limit <= 0 || utf8.RuneCountInString(label(msg, msg.Text, 0, 1)) <= s.opts.Limit {
		return []string{msg.Text}
	}

	opts := s.opts
	total := 2
	for {
		opts.Limit = s.opts.Limit - markerWidth(msg.Title, total)
		if opts.Limit < 1 {
			opts.Limit = 1
		}
		parts := chunker.Split(msg.Text, opts)
		if digits(len(parts)) <= digits(total) {
			return parts
		}
		total = len(parts)
	}
}

// markerWidth is the widest "[title] (i/n)\n" prefix for n chunks.
func markerWidth(title string, n int) int {
	w := len(fmt.Sprintf("(%d/%d)", n, n)) + 1
	if h := headerTitle(title); h != "" {
		w += utf8.RuneCountInString(h) + 3
	}
	return w
}

func digits(n int) int {
	return len(fmt.Sprint(n))
}

// headerTitle shortens titles that would crowd out the chunk body.
func headerTitle(title string) string {
	if utf8.RuneCountInString(title) <= maxHeaderTitle {
		return title
	}
	return string([]rune(title)[:maxHeaderTitle-1]) + "…"
}

func partial(out Outcome, i, total int, err error) Outcome {
	if total > 1 {
		err = fmt.Errorf("failed at part %d/%d: %w", i+1, total, err)
	}
	out.Error = err.Error()
	out.Err = err
	return out
}

// label adds the title header or the "(i/n)" numbering marker to a chunk.
func label(msg Message, part string, i, total int) string {
	header := "[" + headerTitle(msg.Title) + "]"
	if msg.Title == "" {
		header = ""
	}

	if total == 1 {
		if msg.AlreadyTitled || header == "" {
			return part
		}
		return header + "\n" + part
	}

	if i == 0 && msg.Title != "" {
		part = strings.TrimPrefix(part, "["+msg.Title+"]\n")
	}
	marker := fmt.Sprintf("(%d/%d)", i+1, total)
	if header != "" {
		marker = header + " " + marker
	}
	return marker + "\n" + part
}
