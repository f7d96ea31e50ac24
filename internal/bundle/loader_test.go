package bundle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundles.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
bundles:
  - id: morning
    title: Morning headlines
    instruction: Summarize the top stories
    urls: [https://news.example.com]
    schedule:
      daily_at: "07:30"
    channels:
      telegram: {enabled: true, chat_id: "12345"}
  - id: weather
    title: Weather
    instruction: what's today's weather in Seoul
    web_search: true
    schedule:
      every_n_days: 2
      at: "06:00"
    channels:
      kakao: {enabled: true}
`)

	defs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d bundles, want 2", len(defs))
	}
	m := defs[0]
	if m.ID != "morning" || m.Title != "Morning headlines" || len(m.URLs) != 1 || m.Schedule.DailyAt != "07:30" {
		t.Errorf("first = %+v", m)
	}
	if !m.Channels.Telegram.Enabled || m.Channels.Telegram.ChatID != "12345" {
		t.Errorf("telegram = %+v", m.Channels.Telegram)
	}
	w := defs[1]
	if !w.WebSearch || w.Schedule.EveryNDays != 2 || w.Schedule.At != "06:00" || !w.Channels.Kakao.Enabled {
		t.Errorf("second = %+v", w)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing id", "bundles:\n  - title: T\n    instruction: i\n    web_search: true\n    schedule: {interval_minutes: 5}\n", "id is required"},
		{"duplicate", "bundles:\n  - {id: a, title: T, instruction: i, web_search: true, schedule: {interval_minutes: 5}}\n  - {id: a, title: T, instruction: i, web_search: true, schedule: {interval_minutes: 5}}\n", "duplicate id"},
		{"no schedule", "bundles:\n  - {id: a, title: T, instruction: i, web_search: true}\n", "schedule is required"},
		{"invalid request", "bundles:\n  - {id: a, title: T, schedule: {interval_minutes: 5}}\n", "instruction is required"},
		{"bad yaml", "bundles: [", "parsing bundles file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}
