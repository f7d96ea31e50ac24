package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent opens the same database twice and checks the
// migration count is unchanged.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("007_add_things.sql")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 7 {
		t.Errorf("version = %d, want 7", v)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for unversioned filename")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	s := openTestStore(t)

	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := ChannelToken{Provider: "kakao", AccessToken: "acc", RefreshToken: "ref", ExpiresAt: expires}
	if err := s.SaveToken(in); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	got, err := s.GetToken("kakao")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got.AccessToken != "acc" || got.RefreshToken != "ref" {
		t.Errorf("got tokens %q/%q, want acc/ref", got.AccessToken, got.RefreshToken)
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, expires)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestSaveToken_Upsert(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveToken(ChannelToken{Provider: "kakao", AccessToken: "old"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if err := s.SaveToken(ChannelToken{Provider: "kakao", AccessToken: "new"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	got, err := s.GetToken("kakao")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got.AccessToken != "new" {
		t.Errorf("AccessToken = %q, want new", got.AccessToken)
	}
	if !got.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero", got.ExpiresAt)
	}
}

func TestGetToken_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetToken("kakao")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteToken(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveToken(ChannelToken{Provider: "kakao", AccessToken: "acc"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if err := s.DeleteToken("kakao"); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if _, err := s.GetToken("kakao"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteToken("kakao"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestChannelTokenExpiredAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"no expiry", time.Time{}, false},
		{"future", now.Add(time.Hour), false},
		{"within buffer", now.Add(30 * time.Second), true},
		{"past", now.Add(-time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := ChannelToken{ExpiresAt: tt.expires}
			if got := tok.ExpiredAt(now, time.Minute); got != tt.want {
				t.Errorf("ExpiredAt = %v, want %v", got, tt.want)
			}
		})
	}
}
