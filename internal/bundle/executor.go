package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/briefd/internal/channel"
	"github.com/kalambet/briefd/internal/fetch"
	"github.com/kalambet/briefd/internal/ollama"
	"github.com/kalambet/briefd/internal/search"
)

const (
	DefaultModel       = "llama3.1:8b"
	DefaultNumPredict  = 8192
	DefaultTemperature = 0.1
	DefaultLLMTimeout  = 180 * time.Second

	maxDetailFetches = 3
	minDetailLength  = 100

	cancelledMessage = "Cancelled"
	noContentMessage = "failed to fetch content from any URL and web search returned no results"
)

// Fetcher retrieves source URLs. *fetch.Fetcher satisfies it.
type Fetcher interface {
	FetchMany(ctx context.Context, urls []string) []fetch.Source
}

// Searcher runs web searches. *search.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string) []search.Result
}

// LLM generates the synthesis. *ollama.Client satisfies it.
type LLM interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, opts *ollama.Options) (string, error)
}

// StreamingLLM is an LLM that can hand out the reply as it is generated.
// *ollama.Client satisfies it.
type StreamingLLM interface {
	LLM
	ChatStream(ctx context.Context, model string, messages []ollama.Message, opts *ollama.Options, onToken func(string)) (string, error)
}

// TelegramSender delivers to Telegram. *channel.Telegram satisfies it.
type TelegramSender interface {
	Send(ctx context.Context, target channel.TelegramTarget, msg channel.Message) channel.Outcome
}

// KakaoSender delivers to Kakao. *channel.Kakao satisfies it.
type KakaoSender interface {
	Send(ctx context.Context, msg channel.Message) channel.Outcome
}

// Config holds generation settings. Zero values select defaults; a nil
// Temperature selects DefaultTemperature so that zero stays expressible.
type Config struct {
	Model       string
	NumPredict  int
	Temperature *float64
	Timeout     time.Duration
	Location    *time.Location
}

// Executor runs bundles. Nil senders disable their channel.
type Executor struct {
	fetcher  Fetcher
	searcher Searcher
	llm      LLM
	telegram TelegramSender
	kakao    KakaoSender
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// Deps are the collaborators of an Executor.
type Deps struct {
	Fetcher  Fetcher
	Searcher Searcher
	LLM      LLM
	Telegram TelegramSender
	Kakao    KakaoSender
}

// NewExecutor creates an Executor.
func NewExecutor(d Deps, cfg Config) *Executor {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.NumPredict <= 0 {
		cfg.NumPredict = DefaultNumPredict
	}
	if cfg.Temperature == nil {
		t := DefaultTemperature
		cfg.Temperature = &t
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLLMTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Executor{
		fetcher:  d.Fetcher,
		searcher: d.Searcher,
		llm:      d.LLM,
		telegram: d.Telegram,
		kakao:    d.Kakao,
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// gathered is the content collected before generation.
type gathered struct {
	sources []fetch.Source
	results []search.Result
	details []fetch.Source
}

// Execute runs one bundle. It never returns an error; the outcome, including
// cancellation, is described by the Result.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	return e.execute(ctx, req, nil)
}

// ExecuteStream is Execute with the synthesis handed to onToken fragment by
// fragment while the model writes it. Models that cannot stream deliver the
// whole reply as one fragment.
func (e *Executor) ExecuteStream(ctx context.Context, req Request, onToken func(string)) Result {
	return e.execute(ctx, req, onToken)
}

func (e *Executor) execute(ctx context.Context, req Request, onToken func(string)) Result {
	res := Result{RunID: uuid.NewString(), StartedAt: e.now()}
	log := e.logger.With("bundle", req.ID, "title", req.Title, "run", res.RunID)

	finish := func(r Result) Result {
		r.FinishedAt = e.now()
		log.Info("bundle run finished", "status", r.Status, "success", r.Success, "chars", len(r.Text),
			"duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
		return r
	}

	if ctx.Err() != nil {
		return finish(cancelled(res))
	}
	log.Info("executing bundle", "urls", len(req.URLs), "web_search", req.WebSearch)

	g := e.gather(ctx, req)
	if ctx.Err() != nil {
		return finish(cancelled(res))
	}

	var usable []fetch.Source
	for _, s := range g.sources {
		if s.OK() && s.Content != "" {
			usable = append(usable, s)
		} else if !s.OK() {
			log.Warn("source failed", "url", s.URL, "error", s.Err)
		}
	}
	if len(usable) == 0 && len(g.results) == 0 {
		res.Status = StatusNoContent
		res.Error = noContentMessage
		return finish(res)
	}

	in := promptInput{
		Instruction:   req.Instruction,
		Sources:       usable,
		SearchContext: search.FormatContext(g.results),
		Details:       g.details,
		Now:           e.now().In(e.cfg.Location),
	}
	text, err := e.generate(ctx, in, onToken)
	if err != nil {
		if ctx.Err() != nil {
			return finish(cancelled(res))
		}
		log.Error("generation failed", "error", err, "timeout", ollama.IsTimeout(err))
		res.Status = StatusGenerationFailed
		res.Error = err.Error()
		if ollama.IsTimeout(err) {
			res.Error = fmt.Sprintf("generation timed out after %s", e.cfg.Timeout)
		}
		return finish(res)
	}

	if ctx.Err() != nil {
		return finish(cancelled(res))
	}
	res.Text = text
	res.Success = true
	res.Status = StatusSucceeded

	for _, d := range e.dispatch(ctx, req, text) {
		if d.Error != "" && !d.Skipped {
			log.Warn("delivery failed", "channel", d.Channel, "sent", d.SentCount, "total", d.TotalChunks, "error", d.Error)
		}
		res.Deliveries = append(res.Deliveries, d)
	}
	return finish(res)
}

// gather fetches the bundle URLs while running the web search and its
// detail fetches.
func (e *Executor) gather(ctx context.Context, req Request) gathered {
	var out gathered
	var g errgroup.Group

	g.Go(func() error {
		if len(req.URLs) > 0 && e.fetcher != nil {
			out.sources = e.fetcher.FetchMany(ctx, req.URLs)
		}
		return nil
	})

	if req.WebSearch && e.searcher != nil {
		g.Go(func() error {
			query := req.Instruction + " " + e.now().In(e.cfg.Location).Format(time.DateOnly)
			out.results = e.searcher.Search(ctx, query)
			e.logger.Info("web search", "query", query, "results", len(out.results))
			out.details = e.fetchDetails(ctx, req.URLs, out.results)
			return nil
		})
	}

	g.Wait()
	return out
}

// fetchDetails fetches the top search hits that are not already bundle URLs
// and keeps those with substantive content.
func (e *Executor) fetchDetails(ctx context.Context, given []string, results []search.Result) []fetch.Source {
	if e.fetcher == nil || len(results) == 0 {
		return nil
	}
	existing := make(map[string]bool, len(given))
	for _, u := range given {
		existing[strings.ToLower(u)] = true
	}

	var urls []string
	for i, r := range results {
		if i == maxDetailFetches {
			break
		}
		if !existing[strings.ToLower(r.URL)] {
			urls = append(urls, r.URL)
		}
	}
	if len(urls) == 0 {
		return nil
	}

	var details []fetch.Source
	for _, s := range e.fetcher.FetchMany(ctx, urls) {
		if s.OK() && len(s.Content) > minDetailLength {
			details = append(details, s)
		}
	}
	return details
}

func (e *Executor) generate(ctx context.Context, in promptInput, onToken func(string)) (string, error) {
	if e.llm == nil {
		return "", errors.New("no language model configured")
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	messages := []ollama.Message{
		{Role: "system", Content: systemPrompt(in)},
		{Role: "user", Content: userPrompt(in)},
	}
	opts := &ollama.Options{NumPredict: e.cfg.NumPredict, Temperature: *e.cfg.Temperature}
	if onToken == nil {
		return e.llm.Chat(ctx, e.cfg.Model, messages, opts)
	}
	if s, ok := e.llm.(StreamingLLM); ok {
		return s.ChatStream(ctx, e.cfg.Model, messages, opts, onToken)
	}
	text, err := e.llm.Chat(ctx, e.cfg.Model, messages, opts)
	if err == nil && text != "" {
		onToken(text)
	}
	return text, err
}

// dispatch delivers text to every enabled channel in turn. A cancelled
// context stops dispatch before the next channel.
func (e *Executor) dispatch(ctx context.Context, req Request, text string) []Delivery {
	type target struct {
		name string
		send func() channel.Outcome
	}
	var targets []target

	msg := channel.Message{Title: req.Title, Text: text}
	if req.Channels.Telegram.Enabled {
		targets = append(targets, target{"telegram", func() channel.Outcome {
			if e.telegram == nil {
				return channel.Outcome{Error: "telegram sender is not configured", Err: channel.ErrMissingCredential}
			}
			return e.telegram.Send(ctx, channel.TelegramTarget{
				ChatID:   req.Channels.Telegram.ChatID,
				BotToken: req.Channels.Telegram.BotToken,
			}, msg)
		}})
	}
	if req.Channels.Kakao.Enabled {
		targets = append(targets, target{"kakao", func() channel.Outcome {
			if e.kakao == nil {
				return channel.Outcome{Error: "kakao sender is not configured", Err: channel.ErrMissingCredential}
			}
			return e.kakao.Send(ctx, msg)
		}})
	}

	var out []Delivery
	for _, t := range targets {
		d := Delivery{Channel: t.name}
		switch {
		case ctx.Err() != nil:
			d.Skipped = true
			d.Error = cancelledMessage
		case strings.TrimSpace(text) == "":
			d.Skipped = true
			d.Error = "nothing to deliver: the model returned an empty result"
		default:
			o := t.send()
			d.Sent = o.Success
			d.Error = o.Error
			d.SentCount = o.SentCount
			d.TotalChunks = o.TotalChunks
			d.Skipped = errors.Is(o.Err, channel.ErrMissingCredential) || errors.Is(o.Err, channel.ErrMissingDestination)
		}
		out = append(out, d)
	}
	return out
}

func cancelled(r Result) Result {
	r.Text = ""
	r.Success = false
	r.Status = StatusCancelled
	r.Error = cancelledMessage
	return r
}
