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
	"sync"
	"time"

	"github.com/kalambet/briefd/internal/storage"
)

const (
	// DefaultKakaoAuthBase is the Kakao OAuth host.
	DefaultKakaoAuthBase = "https://kauth.kakao.com"

	kakaoProvider = "kakao"
	expiryBuffer  = time.Minute
)

// TokenStore persists channel tokens. *storage.Store satisfies it.
type TokenStore interface {
	GetToken(provider string) (storage.ChannelToken, error)
	SaveToken(t storage.ChannelToken) error
	DeleteToken(provider string) error
}

// KakaoTokens is a TokenSource backed by a TokenStore that renews access
// tokens with the refresh_token grant.
type KakaoTokens struct {
	store      TokenStore
	authBase   string
	restAPIKey string
	client     *http.Client
	now        func() time.Time
	logger     *slog.Logger

	mu sync.Mutex
}

// NewKakaoTokens creates a token source. restAPIKey is the app's REST API key
// used as client_id for refreshes.
func NewKakaoTokens(store TokenStore, authBase, restAPIKey string) *KakaoTokens {
	if authBase == "" {
		authBase = DefaultKakaoAuthBase
	}
	return &KakaoTokens{
		store:      store,
		authBase:   strings.TrimRight(authBase, "/"),
		restAPIKey: restAPIKey,
		client:     &http.Client{Timeout: kakaoTimeout},
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// Connected reports whether an access token is stored.
func (k *KakaoTokens) Connected() bool {
	t, err := k.store.GetToken(kakaoProvider)
	return err == nil && t.AccessToken != ""
}

// Save stores tokens obtained out of band. expiresIn of zero means unknown.
func (k *KakaoTokens) Save(accessToken, refreshToken string, expiresIn time.Duration) error {
	t := storage.ChannelToken{
		Provider:     kakaoProvider,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UpdatedAt:    k.now(),
	}
	if expiresIn > 0 {
		t.ExpiresAt = k.now().Add(expiresIn)
	}
	return k.store.SaveToken(t)
}

// Token returns a usable access token, refreshing it first when it has
// expired and a refresh token is available.
func (k *KakaoTokens) Token(ctx context.Context) (string, error) {
	t, err := k.store.GetToken(kakaoProvider)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("kakao account is not connected: %w", ErrMissingCredential)
	}
	if err != nil {
		return "", err
	}
	if t.ExpiredAt(k.now(), expiryBuffer) && t.RefreshToken != "" {
		return k.Refresh(ctx)
	}
	return t.AccessToken, nil
}

type kakaoTokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// refreshRejectedError reports that the auth server refused the refresh
// token itself, as opposed to the request failing on the way.
type refreshRejectedError struct {
	status int
	msg    string
}

func (e *refreshRejectedError) Error() string {
	return fmt.Sprintf("token refresh rejected (status %d): %s", e.status, e.msg)
}

// Refresh exchanges the stored refresh token for a new access token. Only a
// refresh the auth server rejects clears the stored tokens; transport and
// cancellation errors leave them in place for the next attempt.
func (k *KakaoTokens) Refresh(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	cur, err := k.store.GetToken(kakaoProvider)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("kakao account is not connected: %w", ErrMissingCredential)
	}
	if err != nil {
		return "", err
	}
	if cur.RefreshToken == "" {
		return "", fmt.Errorf("no kakao refresh token stored: %w", ErrMissingCredential)
	}
	if k.restAPIKey == "" {
		return "", fmt.Errorf("kakao REST API key is not configured: %w", ErrMissingCredential)
	}

	tr, err := k.requestRefresh(ctx, cur.RefreshToken)
	var rejected *refreshRejectedError
	if errors.As(err, &rejected) {
		if derr := k.store.DeleteToken(kakaoProvider); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
			k.logger.Warn("clearing kakao tokens failed", "error", derr)
		}
		return "", err
	}
	if err != nil {
		return "", err
	}

	next := storage.ChannelToken{
		Provider:     kakaoProvider,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		UpdatedAt:    k.now(),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if tr.ExpiresIn > 0 {
		next.ExpiresAt = k.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if err := k.store.SaveToken(next); err != nil {
		return "", err
	}
	k.logger.Info("kakao token refreshed", "expires_at", next.ExpiresAt)
	return next.AccessToken, nil
}

func (k *KakaoTokens) requestRefresh(ctx context.Context, refreshToken string) (kakaoTokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {k.restAPIKey},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.authBase+"/oauth/token", strings.NewReader(data.Encode()))
	if err != nil {
		return kakaoTokenResponse{}, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := k.client.Do(req)
	if err != nil {
		return kakaoTokenResponse{}, fmt.Errorf("token refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return kakaoTokenResponse{}, fmt.Errorf("reading refresh response: %w", err)
	}

	var tr kakaoTokenResponse
	perr := json.Unmarshal(body, &tr)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 || tr.Error == "invalid_grant" {
		msg := tr.ErrorDescription
		if msg == "" {
			msg = tr.Error
		}
		if msg == "" {
			msg = resp.Status
		}
		return kakaoTokenResponse{}, &refreshRejectedError{status: resp.StatusCode, msg: msg}
	}
	if resp.StatusCode != http.StatusOK {
		return kakaoTokenResponse{}, fmt.Errorf("token refresh failed: %s", resp.Status)
	}
	if perr != nil {
		return kakaoTokenResponse{}, fmt.Errorf("parsing refresh response: %w", perr)
	}
	if tr.Error != "" {
		return kakaoTokenResponse{}, fmt.Errorf("token refresh failed: %s", tr.Error)
	}
	if tr.AccessToken == "" {
		return kakaoTokenResponse{}, fmt.Errorf("no access token in refresh response")
	}
	return tr, nil
}
