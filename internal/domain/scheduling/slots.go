package scheduling

import (
	"time"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/interval"
)

// OpenSlot is a bookable range shown to clients.
type OpenSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
}

// OpenSlots cuts the availability blocks of a resolved timeline into
// back-to-back slots of duration minutes. Slots that would run past the end
// of their block, or that start before now, are dropped.
func (e *Engine) OpenSlots(date Date, blocks []TimeBlock, duration int) []OpenSlot {
	if duration <= 0 {
		return nil
	}
	now := e.now()

	var slots []OpenSlot
	for _, b := range blocks {
		if b.Type != BlockAvailability {
			continue
		}
		for start := b.Start; start+duration <= b.End; start += duration {
			s := date.At(start, e.loc)
			if s.Before(now) {
				continue
			}
			slots = append(slots, OpenSlot{
				Start:     s,
				End:       date.At(start+duration, e.loc),
				StartTime: interval.MinutesToTime(start),
				EndTime:   interval.MinutesToTime(start + duration),
			})
		}
	}
	return slots
}
