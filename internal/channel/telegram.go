package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kalambet/briefd/internal/chunker"
)

const (
	// DefaultTelegramEndpoint is the Bot API URL template (token, method).
	DefaultTelegramEndpoint = tgbotapi.APIEndpoint

	telegramChunkSize = 4000
	telegramDelay     = 300 * time.Millisecond
	telegramTimeout   = 25 * time.Second
)

// TelegramConfig configures a Telegram sender.
type TelegramConfig struct {
	Endpoint   string // Bot API URL template with two %s verbs
	BotToken   string // used when a target has no token of its own
	Delay      time.Duration
	HTTPClient *http.Client
}

// TelegramTarget identifies where a message goes. ChatID is either a numeric
// chat id or an "@channel" username.
type TelegramTarget struct {
	ChatID   string
	BotToken string
}

// Telegram sends chunked messages through the Telegram Bot API.
type Telegram struct {
	endpoint     string
	defaultToken string
	client       *http.Client
	seq          sequencer
	logger       *slog.Logger

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

// NewTelegram creates a Telegram sender.
func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultTelegramEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: telegramTimeout}
	}
	if cfg.Delay == 0 {
		cfg.Delay = telegramDelay
	}
	logger := slog.Default()
	return &Telegram{
		endpoint:     cfg.Endpoint,
		defaultToken: cfg.BotToken,
		client:       cfg.HTTPClient,
		logger:       logger,
		bots:         make(map[string]*tgbotapi.BotAPI),
		seq: sequencer{
			opts:   chunker.Options{Limit: telegramChunkSize, MinFraction: 0.5},
			delay:  cfg.Delay,
			logger: logger,
			name:   "telegram",
		},
	}
}

// Send delivers msg to target. A missing chat id or bot token fails before
// any request is made.
func (t *Telegram) Send(ctx context.Context, target TelegramTarget, msg Message) Outcome {
	token := target.BotToken
	if token == "" {
		token = t.defaultToken
	}
	if token == "" {
		return failed(fmt.Errorf("telegram bot token is missing: %w", ErrMissingCredential))
	}
	chatID := strings.TrimSpace(target.ChatID)
	if chatID == "" {
		return failed(fmt.Errorf("telegram chat id is required: %w", ErrMissingDestination))
	}

	bot, err := t.bot(token)
	if err != nil {
		return failed(fmt.Errorf("connecting telegram bot: %w", err))
	}

	return t.seq.send(ctx, msg, func(ctx context.Context, text string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := bot.Send(newTelegramMessage(chatID, text))
		return normalizeTelegramError(err)
	})
}

// bot returns a cached client for token. NewBotAPIWithClient calls getMe, so
// an invalid token is reported once here rather than per chunk.
func (t *Telegram) bot(token string) (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b, ok := t.bots[token]; ok {
		return b, nil
	}
	b, err := tgbotapi.NewBotAPIWithClient(token, t.endpoint, t.client)
	if err != nil {
		return nil, normalizeTelegramError(err)
	}
	t.bots[token] = b
	return b, nil
}

func newTelegramMessage(chatID, text string) tgbotapi.MessageConfig {
	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		if !strings.HasPrefix(chatID, "@") {
			chatID = "@" + chatID
		}
		msg = tgbotapi.NewMessageToChannel(chatID, text)
	}
	msg.DisableWebPagePreview = true
	return msg
}

// normalizeTelegramError reduces Bot API failures to the provider's plain
// description.
func normalizeTelegramError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return errors.New(apiErr.Message)
	}
	return err
}
