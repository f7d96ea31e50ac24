package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ChannelToken is an OAuth credential pair for one messaging provider.
type ChannelToken struct {
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExpiredAt reports whether the access token is expired at now, or will be
// within buffer. A zero ExpiresAt means the provider gave no expiry.
func (t ChannelToken) ExpiredAt(now time.Time, buffer time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(buffer).After(t.ExpiresAt)
}

// SaveToken inserts or replaces the token for t.Provider.
func (s *Store) SaveToken(t ChannelToken) error {
	if t.Provider == "" {
		return fmt.Errorf("saving token: provider is required")
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	var expires string
	if !t.ExpiresAt.IsZero() {
		expires = t.ExpiresAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO channel_tokens (provider, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		t.Provider, t.AccessToken, t.RefreshToken, expires, t.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving %s token: %w", t.Provider, err)
	}
	return nil
}

// GetToken returns the stored token for provider or ErrNotFound.
func (s *Store) GetToken(provider string) (ChannelToken, error) {
	t := ChannelToken{Provider: provider}
	var expires, updated string
	err := s.db.QueryRow(`
		SELECT access_token, refresh_token, expires_at, updated_at
		FROM channel_tokens WHERE provider = ?`, provider,
	).Scan(&t.AccessToken, &t.RefreshToken, &expires, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ChannelToken{}, ErrNotFound
	}
	if err != nil {
		return ChannelToken{}, fmt.Errorf("loading %s token: %w", provider, err)
	}

	if expires != "" {
		if t.ExpiresAt, err = time.Parse(time.RFC3339, expires); err != nil {
			return ChannelToken{}, fmt.Errorf("parsing expires_at: %w", err)
		}
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
		return ChannelToken{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return t, nil
}

// DeleteToken removes the token for provider. Deleting a missing token
// returns ErrNotFound.
func (s *Store) DeleteToken(provider string) error {
	res, err := s.db.Exec(`DELETE FROM channel_tokens WHERE provider = ?`, provider)
	if err != nil {
		return fmt.Errorf("deleting %s token: %w", provider, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
