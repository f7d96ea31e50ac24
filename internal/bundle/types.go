// Package bundle runs research bundles: it gathers source content, asks the
// language model for a synthesis and delivers the result to messaging
// channels.
package bundle

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTitleLength bounds bundle titles, in runes. Titles head every delivered
// chunk, so they share the channel's message budget.
const MaxTitleLength = 200

// Request describes one bundle execution.
type Request struct {
	ID          string   `json:"bundleId,omitempty" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Instruction string   `json:"instruction" yaml:"instruction"`
	URLs        []string `json:"urls" yaml:"urls"`
	WebSearch   bool     `json:"webSearch" yaml:"web_search"`
	Channels    Channels `json:"channels" yaml:"channels"`
}

// Channels is the per-channel delivery configuration of a bundle.
type Channels struct {
	Kakao    KakaoChannel    `json:"kakao" yaml:"kakao"`
	Telegram TelegramChannel `json:"telegram" yaml:"telegram"`
}

// KakaoChannel enables delivery to the connected Kakao account.
type KakaoChannel struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// TelegramChannel configures Telegram delivery. An empty BotToken falls back
// to the globally configured bot.
type TelegramChannel struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	ChatID   string `json:"chatId,omitempty" yaml:"chat_id"`
	BotToken string `json:"botToken,omitempty" yaml:"bot_token"`
}

// Validate reports caller input errors.
func (r Request) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	} else if utf8.RuneCountInString(r.Title) > MaxTitleLength {
		errs = append(errs, fmt.Errorf("title must be at most %d characters", MaxTitleLength))
	}
	if strings.TrimSpace(r.Instruction) == "" {
		errs = append(errs, errors.New("instruction is required"))
	}
	if len(r.URLs) == 0 && !r.WebSearch {
		errs = append(errs, errors.New("at least one url is required unless web search is enabled"))
	}
	for _, u := range r.URLs {
		if strings.TrimSpace(u) == "" {
			errs = append(errs, errors.New("urls must not contain empty entries"))
			break
		}
	}
	return errors.Join(errs...)
}

// Status classifies a run outcome.
type Status string

const (
	StatusSucceeded        Status = "succeeded"
	StatusNoContent        Status = "no_content"
	StatusGenerationFailed Status = "generation_failed"
	StatusCancelled        Status = "cancelled"
)

// Delivery is the outcome of dispatching a result to one channel.
type Delivery struct {
	Channel     string `json:"channel"`
	Sent        bool   `json:"sent"`
	Skipped     bool   `json:"skipped,omitempty"`
	Error       string `json:"error,omitempty"`
	SentCount   int    `json:"sentCount"`
	TotalChunks int    `json:"totalChunks"`
}

// Result is the outcome of one execution. Success reflects content
// generation only; per-channel delivery is reported in Deliveries.
type Result struct {
	RunID      string     `json:"runId"`
	Text       string     `json:"text"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	Status     Status     `json:"status"`
	Deliveries []Delivery `json:"deliveries,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
}
