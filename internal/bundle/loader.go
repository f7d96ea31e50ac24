package bundle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Schedule is the wire form of a timing policy. Exactly one form is set:
// IntervalMinutes, DailyAt, or EveryNDays together with At.
type Schedule struct {
	IntervalMinutes int    `json:"intervalMinutes,omitempty" yaml:"interval_minutes"`
	DailyAt         string `json:"dailyAt,omitempty" yaml:"daily_at"`
	EveryNDays      int    `json:"everyNDays,omitempty" yaml:"every_n_days"`
	At              string `json:"at,omitempty" yaml:"at"`
}

// IsZero reports whether no form is set.
func (s Schedule) IsZero() bool {
	return s == Schedule{}
}

// Definition is a bundle declared in a bundles file.
type Definition struct {
	Request  `yaml:",inline"`
	Schedule Schedule `yaml:"schedule"`
}

type bundlesFile struct {
	Bundles []Definition `yaml:"bundles"`
}

// LoadFile reads bundle definitions from a YAML file of the form:
//
//	bundles:
//	  - id: morning-news
//	    title: Morning headlines
//	    instruction: Summarize the top stories
//	    urls: [https://news.example.com]
//	    schedule:
//	      daily_at: "07:30"
//	    channels:
//	      telegram: {enabled: true, chat_id: "12345"}
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundles file: %w", err)
	}

	var f bundlesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing bundles file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Bundles))
	for i, d := range f.Bundles {
		if d.ID == "" {
			return nil, fmt.Errorf("bundle %d: id is required", i+1)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("bundle %q: duplicate id", d.ID)
		}
		seen[d.ID] = true
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("bundle %q: %w", d.ID, err)
		}
		if d.Schedule.IsZero() {
			return nil, fmt.Errorf("bundle %q: schedule is required", d.ID)
		}
	}
	return f.Bundles, nil
}
