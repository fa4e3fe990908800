package scheduling

import (
	"time"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/interval"
)

// A time-off block counts as all-day when it starts by 00:10 and ends at or
// after 23:50.
const (
	allDayLatestStart = 10
	allDayEarliestEnd = 23*60 + 50
)

// IsAllDay classifies a minute-of-day range.
func IsAllDay(start, end int) bool {
	return start <= allDayLatestStart && end >= allDayEarliestEnd
}

// IsAllDayTimes classifies a pair of timestamps by their time-of-day.
func IsAllDayTimes(start, end time.Time) bool {
	return IsAllDay(interval.MinutesOf(start), interval.MinutesOf(end))
}
