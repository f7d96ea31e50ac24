package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockSecrets is a test double for the secrets file.
type mockSecrets map[string]string

func (m mockSecrets) Get(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	cfg, err := loadWith(b, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q, want %q", cfg.Ollama.BaseURL, "http://localhost:11434")
	}
	if cfg.Ollama.Model != "llama3.1:8b" {
		t.Errorf("Ollama.Model = %q, want %q", cfg.Ollama.Model, "llama3.1:8b")
	}
	if cfg.Ollama.Temperature != 0.1 {
		t.Errorf("Ollama.Temperature = %v, want 0.1", cfg.Ollama.Temperature)
	}
	if cfg.Ollama.Timeout != 180*time.Second {
		t.Errorf("Ollama.Timeout = %v, want 180s", cfg.Ollama.Timeout)
	}
	if cfg.Fetch.Concurrency != 8 {
		t.Errorf("Fetch.Concurrency = %d, want 8", cfg.Fetch.Concurrency)
	}
	if cfg.Telegram.SendDelay != 300*time.Millisecond {
		t.Errorf("Telegram.SendDelay = %v, want 300ms", cfg.Telegram.SendDelay)
	}
	if cfg.Kakao.SendDelay != 500*time.Millisecond {
		t.Errorf("Kakao.SendDelay = %v, want 500ms", cfg.Kakao.SendDelay)
	}
	if cfg.Scheduler.Tick != time.Minute {
		t.Errorf("Scheduler.Tick = %v, want 1m", cfg.Scheduler.Tick)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

// TestJSONParsing verifies that all typed fields are read from the file.
func TestJSONParsing(t *testing.T) {
	b := writeTempConfig(t, `{
  "server": {"port": 5000},
  "ollama": {"model": "qwen2.5:7b", "temperature": 0.3, "timeout": "2m"},
  "fetch": {"concurrency": "4"},
  "search": {"max_results": 3},
  "telegram": {"send_delay": "1s"},
  "scheduler": {"timezone": "UTC"},
  "storage": {"data_dir": "/tmp/briefd-test"},
  "log": {"level": "debug"}
}`)

	cfg, err := loadWith(b, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Ollama.Model != "qwen2.5:7b" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
	if cfg.Ollama.Temperature != 0.3 {
		t.Errorf("Ollama.Temperature = %v", cfg.Ollama.Temperature)
	}
	if cfg.Ollama.Timeout != 2*time.Minute {
		t.Errorf("Ollama.Timeout = %v", cfg.Ollama.Timeout)
	}
	if cfg.Fetch.Concurrency != 4 {
		t.Errorf("Fetch.Concurrency = %d", cfg.Fetch.Concurrency)
	}
	if cfg.Search.MaxResults != 3 {
		t.Errorf("Search.MaxResults = %d", cfg.Search.MaxResults)
	}
	if cfg.Telegram.SendDelay != time.Second {
		t.Errorf("Telegram.SendDelay = %v", cfg.Telegram.SendDelay)
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Scheduler.Location() = %v, %v", loc, err)
	}
	if cfg.Storage.DataDir != "/tmp/briefd-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestUnparsableFileValueKeepsDefault(t *testing.T) {
	b := writeTempConfig(t, `{"ollama": {"timeout": "soon"}}`)

	cfg, err := loadWith(b, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ollama.Timeout != 180*time.Second {
		t.Errorf("Ollama.Timeout = %v, want default 180s", cfg.Ollama.Timeout)
	}
}

func TestFileIntTypeError(t *testing.T) {
	b := writeTempConfig(t, `{"server": {"port": 40.5}}`)

	if _, err := loadWith(b, mockSecrets{}); err == nil {
		t.Fatal("expected error for fractional port")
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	b := writeTempConfig(t, `{"ollama": {"model": "file-model"}, "fetch": {"timeout": "5s"}}`)

	t.Setenv("BRIEFD_OLLAMA_MODEL", "env-model")
	t.Setenv("BRIEFD_FETCH_TIMEOUT", "45s")
	t.Setenv("BRIEFD_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(b, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ollama.Model != "env-model" {
		t.Errorf("Ollama.Model = %q, want %q", cfg.Ollama.Model, "env-model")
	}
	if cfg.Fetch.Timeout != 45*time.Second {
		t.Errorf("Fetch.Timeout = %v, want 45s", cfg.Fetch.Timeout)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want default after bad env value", cfg.Server.Port)
	}
}

func TestSecrets(t *testing.T) {
	b := writeTempConfig(t, `{"telegram": {"bot_token": "from-file-ignored"}}`)

	t.Setenv("BRIEFD_TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("BRIEFD_KAKAO_REST_API_KEY", "")

	sec := mockSecrets{
		"telegram.bot_token": "secret-file-token",
		"kakao.rest_api_key": "kakao-key",
	}
	cfg, err := loadWith(b, sec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.BotToken != "env-token" {
		t.Errorf("Telegram.BotToken = %q, want env-token", cfg.Telegram.BotToken)
	}
	if cfg.Kakao.RESTAPIKey != "kakao-key" {
		t.Errorf("Kakao.RESTAPIKey = %q, want kakao-key from secrets file", cfg.Kakao.RESTAPIKey)
	}
	if cfg.Server.APIToken != "" {
		t.Errorf("Server.APIToken = %q, want empty", cfg.Server.APIToken)
	}
}

func TestFileSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"server.api_token": "abc"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	f := fileSecrets{path: path}

	if v, err := f.Get("server.api_token"); err != nil || v != "abc" {
		t.Errorf("Get = %q, %v", v, err)
	}
	if _, err := f.Get("kakao.rest_api_key"); err == nil {
		t.Error("expected error for missing secret")
	}
	if _, err := (fileSecrets{path: filepath.Join(t.TempDir(), "none.json")}).Get("x"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"log level", `{"log": {"level": "verbose"}}`, "log.level"},
		{"timezone", `{"scheduler": {"timezone": "Mars/Olympus"}}`, "timezone"},
		{"tick", `{"scheduler": {"tick": "10ms"}}`, "scheduler.tick"},
		{"concurrency", `{"fetch": {"concurrency": 0}}`, "fetch.concurrency"},
		{"temperature", `{"ollama": {"temperature": -0.5}}`, "ollama.temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWith(writeTempConfig(t, tt.content), mockSecrets{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestSetKey(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	if err := setKey(b, "server.port", "4200"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := setKey(b, "scheduler.tick", "30s"); err != nil {
		t.Fatalf("set duration: %v", err)
	}
	if err := setKey(b, "scheduler.tick", "soon"); err == nil {
		t.Error("expected error for bad duration")
	}
	if err := setKey(b, "server.port", "high"); err == nil {
		t.Error("expected error for bad integer")
	}
	if err := setKey(b, "telegram.bot_token", "x"); err == nil || !strings.Contains(err.Error(), "BRIEFD_TELEGRAM_BOT_TOKEN") {
		t.Errorf("secret error = %v, want hint at env var", err)
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	// Re-read from disk.
	cfg, err := loadWith(newFileBackend(b.path), mockSecrets{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 4200 || cfg.Scheduler.Tick != 30*time.Second {
		t.Errorf("after SetKey: port=%d tick=%v", cfg.Server.Port, cfg.Scheduler.Tick)
	}

	if err := unsetKey(b, "server.port"); err != nil {
		t.Fatal(err)
	}
	cfg, _ = loadWith(newFileBackend(b.path), mockSecrets{})
	if cfg.Server.Port != 4100 {
		t.Errorf("after UnsetKey: port=%d, want 4100", cfg.Server.Port)
	}
}

func TestFileBackendLayout(t *testing.T) {
	b := writeTempConfig(t, `{}`)
	if err := setKey(b, "server.port", "4200"); err != nil {
		t.Fatal(err)
	}
	if err := setKey(b, "ollama.model", "qwen2.5:7b"); err != nil {
		t.Fatal(err)
	}
	if err := setKey(b, "ollama.timeout", "2m"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk map[string]map[string]any
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("config file is not sectioned: %v\n%s", err, data)
	}
	if port, ok := onDisk["server"]["port"].(float64); !ok || port != 4200 {
		t.Errorf("server.port on disk = %#v, want number 4200", onDisk["server"]["port"])
	}
	if onDisk["ollama"]["model"] != "qwen2.5:7b" || onDisk["ollama"]["timeout"] != "2m" {
		t.Errorf("ollama section = %v", onDisk["ollama"])
	}

	// An emptied section disappears from the file.
	if err := unsetKey(b, "server.port"); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(b.path)
	if strings.Contains(string(data), `"server"`) {
		t.Errorf("empty server section kept:\n%s", data)
	}
}

func TestZeroTemperatureFromFile(t *testing.T) {
	cfg, err := loadWith(writeTempConfig(t, `{"ollama": {"temperature": 0}}`), mockSecrets{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ollama.Temperature != 0 {
		t.Errorf("Ollama.Temperature = %v, want 0", cfg.Ollama.Temperature)
	}
}

func TestFlatFileIgnored(t *testing.T) {
	cfg, err := loadWith(writeTempConfig(t, `{"server.port": 5000}`), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want default for a non-sectioned file", cfg.Server.Port)
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Telegram.BotToken = "123:abc"

	var sawToken, sawPort bool
	for _, k := range ShowAll(cfg) {
		switch k.Key {
		case "telegram.bot_token":
			sawToken = true
			if k.Value == "123:abc" {
				t.Error("secret shown in clear")
			}
		case "server.api_token":
			if k.Value != "(not set)" {
				t.Errorf("unset secret shown as %q", k.Value)
			}
		case "server.port":
			sawPort = true
			if k.Value != "4100" || k.EnvVar != "BRIEFD_SERVER_PORT" {
				t.Errorf("server.port = %+v", k)
			}
		}
	}
	if !sawToken || !sawPort {
		t.Error("ShowAll missing keys")
	}

	for _, k := range ValidKeys() {
		if k == "telegram.bot_token" {
			t.Error("ValidKeys lists a secret")
		}
	}
}
