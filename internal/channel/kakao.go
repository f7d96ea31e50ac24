package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/briefd/internal/chunker"
)

const (
	// DefaultKakaoAPIBase is the Kakao REST API host.
	DefaultKakaoAPIBase = "https://kapi.kakao.com"

	kakaoMemoPath  = "/v2/api/talk/memo/default/send"
	kakaoChunkSize = 1000
	kakaoDelay     = 500 * time.Millisecond
	kakaoTimeout   = 20 * time.Second
	kakaoLinkURL   = "https://developers.kakao.com"
)

// TokenSource supplies and renews the bearer credential for a sender.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// KakaoConfig configures a Kakao sender.
type KakaoConfig struct {
	APIBase    string
	Delay      time.Duration
	HTTPClient *http.Client
}

// Kakao sends chunked "memo to self" messages through the Kakao Talk API.
type Kakao struct {
	apiBase string
	client  *http.Client
	tokens  TokenSource
	seq     sequencer
	logger  *slog.Logger
}

// NewKakao creates a Kakao sender using tokens for authorization.
func NewKakao(tokens TokenSource, cfg KakaoConfig) *Kakao {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultKakaoAPIBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: kakaoTimeout}
	}
	if cfg.Delay == 0 {
		cfg.Delay = kakaoDelay
	}
	logger := slog.Default()
	return &Kakao{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		client:  cfg.HTTPClient,
		tokens:  tokens,
		logger:  logger,
		seq: sequencer{
			opts:   chunker.Options{Limit: kakaoChunkSize, MinFraction: 0.3, Sentences: true},
			delay:  cfg.Delay,
			logger: logger,
			name:   "kakao",
		},
	}
}

// Send delivers msg to the connected account. A chunk rejected because the
// access token expired triggers one refresh and one retry of that chunk.
func (k *Kakao) Send(ctx context.Context, msg Message) Outcome {
	if k.tokens == nil {
		return failed(fmt.Errorf("kakao account is not connected: %w", ErrMissingCredential))
	}
	token, err := k.tokens.Token(ctx)
	if err != nil {
		return failed(fmt.Errorf("loading kakao token: %w", err))
	}
	if token == "" {
		return failed(fmt.Errorf("kakao account is not connected: %w", ErrMissingCredential))
	}

	return k.seq.send(ctx, msg, func(ctx context.Context, text string) error {
		err := k.post(ctx, token, text)
		if !isKakaoAuthExpired(err) {
			return err
		}

		k.logger.Info("kakao token rejected, refreshing")
		fresh, rerr := k.tokens.Refresh(ctx)
		if rerr != nil {
			return fmt.Errorf("%v (token refresh failed: %v)", err, rerr)
		}
		token = fresh
		return k.post(ctx, token, text)
	})
}

// KakaoError is a normalized error body from the Kakao API.
type KakaoError struct {
	Status int
	Code   int
	Msg    string
}

func (e *KakaoError) Error() string {
	return fmt.Sprintf("%s (code: %d)", e.Msg, e.Code)
}

func isKakaoAuthExpired(err error) bool {
	var kerr *KakaoError
	if !errors.As(err, &kerr) {
		return false
	}
	return kerr.Status == http.StatusUnauthorized || kerr.Code == -401
}

type kakaoTemplate struct {
	ObjectType  string    `json:"object_type"`
	Text        string    `json:"text"`
	Link        kakaoLink `json:"link"`
	ButtonTitle string    `json:"button_title"`
}

type kakaoLink struct {
	WebURL       string `json:"web_url"`
	MobileWebURL string `json:"mobile_web_url"`
}

func (k *Kakao) post(ctx context.Context, token, text string) error {
	tmpl, err := json.Marshal(kakaoTemplate{
		ObjectType:  "text",
		Text:        text,
		Link:        kakaoLink{WebURL: kakaoLinkURL, MobileWebURL: kakaoLinkURL},
		ButtonTitle: "Open",
	})
	if err != nil {
		return fmt.Errorf("encoding template: %w", err)
	}
	form := url.Values{"template_object": {string(tmpl)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.apiBase+kakaoMemoPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating kakao request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("kakao request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeKakaoError(resp)
}

func decodeKakaoError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb struct {
		Msg  string `json:"msg"`
		Code int    `json:"code"`
	}
	if err := json.Unmarshal(body, &eb); err != nil || eb.Msg == "" {
		eb.Msg = strings.TrimSpace(string(body))
		if eb.Msg == "" {
			eb.Msg = resp.Status
		}
	}
	return &KakaoError{Status: resp.StatusCode, Code: eb.Code, Msg: eb.Msg}
}
