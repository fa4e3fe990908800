// Package interval works with minute-of-day ranges. A Range is half-open:
// it covers [Start, End) and two ranges that only touch do not overlap.
package interval

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the exclusive upper bound of a minute-of-day value.
const MinutesPerDay = 24 * 60

var ErrInvalidTimeFormat = errors.New("invalid time format")

// ToMinutes parses "HH:MM" or "HH:MM:SS" into minutes since midnight.
// Seconds are validated and then dropped.
func ToMinutes(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q: expected HH:MM[:SS]", ErrInvalidTimeFormat, s)
	}

	limits := []int{23, 59, 59}
	values := make([]int, len(parts))
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
		}
		values[i] = n
	}

	return values[0]*60 + values[1], nil
}

// MinutesToTime renders minutes since midnight as "HH:MM:SS".
func MinutesToTime(m int) string {
	if m < 0 {
		m = 0
	}
	return fmt.Sprintf("%02d:%02d:00", m/60, m%60)
}

// MinutesOf returns the time-of-day of t, in t's own location, as minutes since midnight.
func MinutesOf(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share any minute.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// Range is a half-open minute-of-day interval.
type Range struct {
	Start int
	End   int
}

func (r Range) Empty() bool {
	return r.End <= r.Start
}

func (r Range) Overlaps(o Range) bool {
	return Overlaps(r.Start, r.End, o.Start, o.End)
}

// Contains reports whether o lies entirely inside r.
func (r Range) Contains(o Range) bool {
	return r.Start <= o.Start && o.End <= r.End
}

func (r Range) String() string {
	return MinutesToTime(r.Start) + "-" + MinutesToTime(r.End)
}

// Subtract folds r through each occluder in order and returns the pieces of r
// that no occluder covers, in ascending order. An occluder that does not
// overlap the remaining pieces leaves them untouched.
func Subtract(r Range, occluders ...Range) []Range {
	if r.Empty() {
		return nil
	}
	pieces := []Range{r}
	for _, o := range occluders {
		pieces = cut(pieces, o)
		if len(pieces) == 0 {
			return nil
		}
	}
	return pieces
}

func cut(pieces []Range, o Range) []Range {
	out := make([]Range, 0, len(pieces)+1)
	for _, p := range pieces {
		if !p.Overlaps(o) {
			out = append(out, p)
			continue
		}
		if p.Start < o.Start {
			out = append(out, Range{Start: p.Start, End: o.Start})
		}
		if o.End < p.End {
			out = append(out, Range{Start: o.End, End: p.End})
		}
	}
	return out
}
