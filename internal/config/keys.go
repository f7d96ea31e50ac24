package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "BRIEFD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "BRIEFD_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "BRIEFD_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "BRIEFD_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "ollama.num_predict", typ: kInt, env: "BRIEFD_OLLAMA_NUM_PREDICT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.NumPredict = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.NumPredict },
	},
	{
		key: "ollama.temperature", typ: kFloat, env: "BRIEFD_OLLAMA_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ollama.Temperature },
	},
	{
		key: "ollama.timeout", typ: kDuration, env: "BRIEFD_OLLAMA_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ollama.Timeout },
	},
	{
		key: "fetch.timeout", typ: kDuration, env: "BRIEFD_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Fetch.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Fetch.Timeout },
	},
	{
		key: "fetch.concurrency", typ: kInt, env: "BRIEFD_FETCH_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Fetch.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Fetch.Concurrency },
	},
	{
		key: "fetch.max_content_length", typ: kInt, env: "BRIEFD_FETCH_MAX_CONTENT_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Fetch.MaxContentLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Fetch.MaxContentLength },
	},
	{
		key: "search.endpoint", typ: kString, env: "BRIEFD_SEARCH_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Search.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Endpoint },
	},
	{
		key: "search.max_results", typ: kInt, env: "BRIEFD_SEARCH_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxResults },
	},
	{
		key: "telegram.api_endpoint", typ: kString, env: "BRIEFD_TELEGRAM_API_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Telegram.APIEndpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.APIEndpoint },
	},
	{
		key: "telegram.bot_token", typ: kString, env: "BRIEFD_TELEGRAM_BOT_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Telegram.BotToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.BotToken },
	},
	{
		key: "telegram.send_delay", typ: kDuration, env: "BRIEFD_TELEGRAM_SEND_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Telegram.SendDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Telegram.SendDelay },
	},
	{
		key: "kakao.api_base", typ: kString, env: "BRIEFD_KAKAO_API_BASE",
		apply:   func(cfg *Config, v any) { cfg.Kakao.APIBase = v.(string) },
		extract: func(cfg Config) any { return cfg.Kakao.APIBase },
	},
	{
		key: "kakao.auth_base", typ: kString, env: "BRIEFD_KAKAO_AUTH_BASE",
		apply:   func(cfg *Config, v any) { cfg.Kakao.AuthBase = v.(string) },
		extract: func(cfg Config) any { return cfg.Kakao.AuthBase },
	},
	{
		key: "kakao.rest_api_key", typ: kString, env: "BRIEFD_KAKAO_REST_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Kakao.RESTAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Kakao.RESTAPIKey },
	},
	{
		key: "kakao.send_delay", typ: kDuration, env: "BRIEFD_KAKAO_SEND_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Kakao.SendDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Kakao.SendDelay },
	},
	{
		key: "scheduler.tick", typ: kDuration, env: "BRIEFD_SCHEDULER_TICK",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.Tick = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scheduler.Tick },
	},
	{
		key: "scheduler.timezone", typ: kString, env: "BRIEFD_SCHEDULER_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.Timezone = v.(string) },
		extract: func(cfg Config) any { return cfg.Scheduler.Timezone },
	},
	{
		key: "extract.noise_file", typ: kString, env: "BRIEFD_EXTRACT_NOISE_FILE",
		apply:   func(cfg *Config, v any) { cfg.Extract.NoiseFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Extract.NoiseFile },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BRIEFD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "BRIEFD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts a raw string to the Go value of typ.
func parse(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			if pv, err := parse(s.typ, v); err == nil {
				s.apply(cfg, pv)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, v, err)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" || s.secret {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		if v, err := parse(s.typ, raw); err == nil {
			s.apply(cfg, v)
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
		}
	}
}

// applySecrets fills secret keys from the environment, then from the
// secrets file. A missing secret is not an error: the component that needs
// it reports it when used.
func applySecrets(cfg *Config, sec secretStore) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v := os.Getenv(s.env); v != "" {
			s.apply(cfg, v)
			continue
		}
		if sec == nil {
			continue
		}
		if v, err := sec.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
