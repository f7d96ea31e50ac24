package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "briefd-data"
		}
	}
	return filepath.Join(dir, "briefd")
}

// ConfigFilePath returns the path Load reads from and SetKey writes to.
func ConfigFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "briefd", "config.json")
}

// section holds the keys of one config section, e.g. "ollama", with their
// raw JSON values so numbers and strings keep their on-disk types.
type section map[string]json.RawMessage

// fileBackend stores config.json grouped by section:
//
//	{
//	  "server": {"port": 4100},
//	  "ollama": {"model": "llama3.1:8b", "temperature": 0.2, "timeout": "3m"}
//	}
//
// Dotted key names map to section and field.
type fileBackend struct {
	path     string
	sections map[string]section
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, sections: make(map[string]section)}
	b.load()
	return b
}

func splitKey(key string) (string, string) {
	sec, field, ok := strings.Cut(key, ".")
	if !ok {
		return "", key
	}
	return sec, field
}

func (b *fileBackend) load() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", b.path, err)
		}
		return
	}
	if err := json.Unmarshal(data, &b.sections); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] config file %s is not a sectioned JSON object: %v. Using default values.\n", b.path, err)
		b.sections = make(map[string]section)
	}
	if b.sections == nil {
		b.sections = make(map[string]section)
	}
}

func (b *fileBackend) save() error {
	for name, sec := range b.sections {
		if len(sec) == 0 {
			delete(b.sections, name)
		}
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.sections, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, append(data, '\n'), 0o600)
}

func (b *fileBackend) raw(key string) (json.RawMessage, bool) {
	sec, field := splitKey(key)
	v, ok := b.sections[sec][field]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

func (b *fileBackend) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sec, field := splitKey(key)
	if b.sections[sec] == nil {
		b.sections[sec] = make(section)
	}
	b.sections[sec][field] = data
	return b.save()
}

// GetString returns string values as is and renders numbers and booleans in
// their JSON form, so "temperature": 0.2 reads the same as "0.2".
func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.raw(key)
	if !ok {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true, nil
	}
	var scalar any
	if err := json.Unmarshal(v, &scalar); err != nil {
		return "", true, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	switch scalar.(type) {
	case float64, bool:
		return string(bytes.TrimSpace(v)), true, nil
	default:
		return "", true, fmt.Errorf("invalid type for %s: want a string, number or bool", key)
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.raw(key)
	if !ok {
		return 0, false, nil
	}
	var scalar any
	if err := json.Unmarshal(v, &scalar); err != nil {
		return 0, true, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	switch val := scalar.(type) {
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer or is out of range", val, key)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type for %s", key)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	return b.put(key, val)
}

func (b *fileBackend) SetInt(key string, val int) error {
	return b.put(key, val)
}

func (b *fileBackend) Delete(key string) error {
	sec, field := splitKey(key)
	delete(b.sections[sec], field)
	return b.save()
}
