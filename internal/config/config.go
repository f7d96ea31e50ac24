package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Fetch     FetchConfig
	Search    SearchConfig
	Telegram  TelegramConfig
	Kakao     KakaoConfig
	Scheduler SchedulerConfig
	Extract   ExtractConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type OllamaConfig struct {
	BaseURL     string
	Model       string
	NumPredict  int
	Temperature float64
	Timeout     time.Duration
}

type FetchConfig struct {
	Timeout          time.Duration
	Concurrency      int
	MaxContentLength int
}

type SearchConfig struct {
	Endpoint   string
	MaxResults int
}

type TelegramConfig struct {
	APIEndpoint string
	BotToken    string
	SendDelay   time.Duration
}

type KakaoConfig struct {
	APIBase    string
	AuthBase   string
	RESTAPIKey string
	SendDelay  time.Duration
}

type SchedulerConfig struct {
	Tick     time.Duration
	Timezone string
}

// Location resolves Timezone. "Local" and "" mean the host zone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

type ExtractConfig struct {
	NoiseFile string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "llama3.1:8b",
			NumPredict:  8192,
			Temperature: 0.1,
			Timeout:     180 * time.Second,
		},
		Fetch: FetchConfig{
			Timeout:          20 * time.Second,
			Concurrency:      8,
			MaxContentLength: 80000,
		},
		Search: SearchConfig{
			Endpoint:   "https://html.duckduckgo.com/html/",
			MaxResults: 5,
		},
		Telegram: TelegramConfig{
			APIEndpoint: "https://api.telegram.org/bot%s/%s",
			SendDelay:   300 * time.Millisecond,
		},
		Kakao: KakaoConfig{
			APIBase:   "https://kapi.kakao.com",
			AuthBase:  "https://kauth.kakao.com",
			SendDelay: 500 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			Tick:     60 * time.Second,
			Timezone: "Local",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file, then applies BRIEFD_*
// environment overrides.
//
// The file lives at $XDG_CONFIG_HOME/briefd/config.json. Secrets are never
// read from it: they come from the environment, falling back to
// $XDG_DATA_HOME/briefd/secrets.json.
func Load() (Config, error) {
	return loadWith(newFileBackend(ConfigFilePath()), fileSecrets{path: secretsFilePath()})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, sec secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, sec)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q: want debug, info, warn or error", cfg.Log.Level)
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Ollama.Temperature < 0 {
		return fmt.Errorf("ollama.temperature must not be negative, got %v", cfg.Ollama.Temperature)
	}
	if cfg.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be at least 1, got %d", cfg.Fetch.Concurrency)
	}
	if cfg.Scheduler.Tick < time.Second {
		return fmt.Errorf("scheduler.tick must be at least 1s, got %s", cfg.Scheduler.Tick)
	}
	if _, err := cfg.Scheduler.Location(); err != nil {
		return err
	}
	return nil
}
