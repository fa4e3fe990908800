package scheduling

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WeeklyRecurrence is a set of weekdays, Sunday = 0. The zero value matches
// no day at all.
type WeeklyRecurrence struct {
	days uint8
}

// NewWeeklyRecurrence returns the set holding the given days.
func NewWeeklyRecurrence(days ...time.Weekday) WeeklyRecurrence {
	var r WeeklyRecurrence
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			r.days |= 1 << uint(d)
		}
	}
	return r
}

func (r WeeklyRecurrence) Has(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return r.days&(1<<uint(d)) != 0
}

func (r WeeklyRecurrence) Empty() bool { return r.days == 0 }

// Days lists the set in ascending order.
func (r WeeklyRecurrence) Days() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if r.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// String renders the canonical "weekly:1,3,5" descriptor.
func (r WeeklyRecurrence) String() string {
	days := r.Days()
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return "weekly:" + strings.Join(parts, ",")
}

// AppliesOn reports whether a recurring record created at createdAt covers
// date. A recurrence never reaches back before the day it was created.
func (r WeeklyRecurrence) AppliesOn(date Date, createdAt Date) bool {
	if !createdAt.IsZero() && date.Before(createdAt) {
		return false
	}
	return r.Has(date.Weekday())
}

var rruleDays = map[string]time.Weekday{
	"SU": time.Sunday, "MO": time.Monday, "TU": time.Tuesday, "WE": time.Wednesday,
	"TH": time.Thursday, "FR": time.Friday, "SA": time.Saturday,
}

// ParseRecurrence expands a recurrence descriptor into its weekday set.
// Two shapes are accepted:
//
//	weekly:1,3,5
//	FREQ=WEEKLY;BYDAY=MO,WE,FR   (optionally prefixed with "RRULE:")
//
// Anything else, including an empty descriptor or one naming no day, yields
// the empty set together with ErrMalformedRecurrence.
func ParseRecurrence(desc string) (WeeklyRecurrence, error) {
	s := strings.TrimSpace(desc)
	if s == "" {
		return WeeklyRecurrence{}, fmt.Errorf("%w: empty descriptor", ErrMalformedRecurrence)
	}

	var (
		r   WeeklyRecurrence
		err error
	)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "weekly:"):
		r, err = parseWeeklyList(s[len("weekly:"):])
	case strings.HasPrefix(lower, "rrule:"):
		r, err = parseRRule(s[len("rrule:"):])
	case strings.HasPrefix(lower, "freq="):
		r, err = parseRRule(s)
	default:
		err = fmt.Errorf("unknown descriptor shape")
	}
	if err == nil && r.Empty() {
		err = fmt.Errorf("no weekday")
	}
	if err != nil {
		return WeeklyRecurrence{}, fmt.Errorf("%w: %q: %v", ErrMalformedRecurrence, desc, err)
	}
	return r, nil
}

func parseWeeklyList(s string) (WeeklyRecurrence, error) {
	var r WeeklyRecurrence
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 6 {
			return WeeklyRecurrence{}, fmt.Errorf("weekday %q out of range 0-6", p)
		}
		r.days |= 1 << uint(n)
	}
	return r, nil
}

func parseRRule(s string) (WeeklyRecurrence, error) {
	var (
		r      WeeklyRecurrence
		weekly bool
	)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return WeeklyRecurrence{}, fmt.Errorf("rule part %q has no value", part)
		}
		switch strings.ToUpper(key) {
		case "FREQ":
			if strings.ToUpper(value) != "WEEKLY" {
				return WeeklyRecurrence{}, fmt.Errorf("frequency %q is not weekly", value)
			}
			weekly = true
		case "BYDAY":
			for _, code := range strings.Split(value, ",") {
				d, ok := rruleDays[strings.ToUpper(strings.TrimSpace(code))]
				if !ok {
					return WeeklyRecurrence{}, fmt.Errorf("unknown day %q", code)
				}
				r.days |= 1 << uint(d)
			}
		case "INTERVAL":
			if value != "1" {
				return WeeklyRecurrence{}, fmt.Errorf("interval %q unsupported", value)
			}
		case "WKST":
		default:
			return WeeklyRecurrence{}, fmt.Errorf("rule part %q unsupported", key)
		}
	}
	if !weekly {
		return WeeklyRecurrence{}, fmt.Errorf("missing FREQ=WEEKLY")
	}
	return r, nil
}

// RecurrenceFromDayOfWeek adapts the legacy day_of_week / is_recurring column
// pair. A non-recurring row yields nil; a recurring row with a missing or out
// of range day yields the empty set so the record matches nothing.
func RecurrenceFromDayOfWeek(dayOfWeek *int, isRecurring bool) (*WeeklyRecurrence, error) {
	if !isRecurring {
		return nil, nil
	}
	empty := WeeklyRecurrence{}
	if dayOfWeek == nil {
		return &empty, fmt.Errorf("%w: recurring row without day_of_week", ErrMalformedRecurrence)
	}
	if *dayOfWeek < 0 || *dayOfWeek > 6 {
		return &empty, fmt.Errorf("%w: day_of_week %d out of range 0-6", ErrMalformedRecurrence, *dayOfWeek)
	}
	r := NewWeeklyRecurrence(time.Weekday(*dayOfWeek))
	return &r, nil
}

func (r WeeklyRecurrence) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts a descriptor string or an array of weekday numbers.
// Unlike ParseRecurrence it rejects malformed input outright, since it only
// runs on requests.
func (r *WeeklyRecurrence) UnmarshalJSON(b []byte) error {
	var days []int
	if err := json.Unmarshal(b, &days); err == nil {
		wd := make([]time.Weekday, 0, len(days))
		for _, d := range days {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: weekday %d out of range 0-6", ErrMalformedRecurrence, d)
			}
			wd = append(wd, time.Weekday(d))
		}
		parsed := NewWeeklyRecurrence(wd...)
		if parsed.Empty() {
			return fmt.Errorf("%w: no weekday", ErrMalformedRecurrence)
		}
		*r = parsed
		return nil
	}

	var desc string
	if err := json.Unmarshal(b, &desc); err != nil {
		return fmt.Errorf("%w: expected a descriptor string or weekday list", ErrMalformedRecurrence)
	}
	parsed, err := ParseRecurrence(desc)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
