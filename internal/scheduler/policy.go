package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/briefd/internal/bundle"
)

// ErrInvalidPolicy is returned for malformed timing policies.
var ErrInvalidPolicy = errors.New("invalid timing policy")

// Kind distinguishes timing policies.
type Kind int

const (
	KindInterval Kind = iota + 1
	KindDailyAt
	KindEveryNDaysAt
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalidPolicy, s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Policy decides when a task recurs.
type Policy struct {
	Kind    Kind
	Minutes int       // KindInterval
	Days    int       // KindEveryNDaysAt; 1 for KindDailyAt
	At      TimeOfDay // time-of-day kinds
}

// Interval recurs every n minutes.
func Interval(minutes int) Policy {
	return Policy{Kind: KindInterval, Minutes: minutes}
}

// DailyAt recurs every day at tod.
func DailyAt(tod TimeOfDay) Policy {
	return Policy{Kind: KindDailyAt, Days: 1, At: tod}
}

// EveryNDaysAt recurs every n days at tod.
func EveryNDaysAt(n int, tod TimeOfDay) Policy {
	return Policy{Kind: KindEveryNDaysAt, Days: n, At: tod}
}

// Validate reports whether the policy can be scheduled.
func (p Policy) Validate() error {
	switch p.Kind {
	case KindInterval:
		if p.Minutes < 1 {
			return fmt.Errorf("%w: interval must be at least 1 minute", ErrInvalidPolicy)
		}
	case KindDailyAt, KindEveryNDaysAt:
		if p.Days < 1 {
			return fmt.Errorf("%w: day count must be at least 1", ErrInvalidPolicy)
		}
		if p.At.Hour < 0 || p.At.Hour > 23 || p.At.Minute < 0 || p.At.Minute > 59 {
			return fmt.Errorf("%w: time of day %s out of range", ErrInvalidPolicy, p.At)
		}
	default:
		return fmt.Errorf("%w: unknown kind", ErrInvalidPolicy)
	}
	return nil
}

// TimeBased reports whether the policy runs on the shared tick.
func (p Policy) TimeBased() bool {
	return p.Kind == KindDailyAt || p.Kind == KindEveryNDaysAt
}

// Every returns the period of an interval policy.
func (p Policy) Every() time.Duration {
	return time.Duration(p.Minutes) * time.Minute
}

// Next returns the first instant on the policy's grid strictly after after,
// evaluated in after's location: the next occurrence of At, then Days-1
// further days. ok is false for interval policies.
func (p Policy) Next(after time.Time) (next time.Time, ok bool) {
	if !p.TimeBased() {
		return time.Time{}, false
	}
	y, m, d := after.Date()
	next = time.Date(y, m, d, p.At.Hour, p.At.Minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	if p.Days > 1 {
		next = next.AddDate(0, 0, p.Days-1)
	}
	return next, true
}

func (p Policy) String() string {
	switch p.Kind {
	case KindInterval:
		return fmt.Sprintf("every %d min", p.Minutes)
	case KindDailyAt:
		return "daily at " + p.At.String()
	case KindEveryNDaysAt:
		return fmt.Sprintf("every %d days at %s", p.Days, p.At)
	}
	return "invalid"
}

// PolicyFor converts the wire form of a schedule. Exactly one form must be
// set.
func PolicyFor(s bundle.Schedule) (Policy, error) {
	forms := 0
	if s.IntervalMinutes != 0 {
		forms++
	}
	if s.DailyAt != "" {
		forms++
	}
	if s.EveryNDays != 0 || s.At != "" {
		forms++
	}
	if forms != 1 {
		return Policy{}, fmt.Errorf("%w: set exactly one of interval, daily time, or every-n-days", ErrInvalidPolicy)
	}

	var p Policy
	switch {
	case s.IntervalMinutes != 0:
		p = Interval(s.IntervalMinutes)
	case s.DailyAt != "":
		tod, err := ParseTimeOfDay(s.DailyAt)
		if err != nil {
			return Policy{}, err
		}
		p = DailyAt(tod)
	default:
		tod, err := ParseTimeOfDay(s.At)
		if err != nil {
			return Policy{}, err
		}
		p = EveryNDaysAt(s.EveryNDays, tod)
	}
	return p, p.Validate()
}
