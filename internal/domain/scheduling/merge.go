package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/interval"
)

// MergePlan tells the caller how to store a new availability window or
// time-off block. When Merged is false the candidate is inserted as is.
// Otherwise the record Keep is widened to Start..End and every record in Drop
// is deleted, since the widened record already covers it.
type MergePlan struct {
	Merged bool
	Keep   uuid.UUID
	Drop   []uuid.UUID
	Start  time.Time
	End    time.Time
}

// mergeable is the part of a record the merger looks at.
type mergeable struct {
	id         uuid.UUID
	start, end time.Time
	recurrence *WeeklyRecurrence
}

// MergeAvailability plans how candidate joins the existing windows.
func (e *Engine) MergeAvailability(candidate AvailabilityWindow, existing []AvailabilityWindow) MergePlan {
	others := make([]mergeable, 0, len(existing))
	for _, w := range existing {
		if w.ID == candidate.ID {
			continue
		}
		others = append(others, mergeable{id: w.ID, start: w.StartTime, end: w.EndTime, recurrence: w.Recurrence})
	}
	return e.merge(mergeable{start: candidate.StartTime, end: candidate.EndTime, recurrence: candidate.Recurrence}, others)
}

// MergeTimeOff plans how candidate joins the existing time-off blocks.
func (e *Engine) MergeTimeOff(candidate TimeOffBlock, existing []TimeOffBlock) MergePlan {
	others := make([]mergeable, 0, len(existing))
	for _, b := range existing {
		if b.ID == candidate.ID {
			continue
		}
		others = append(others, mergeable{id: b.ID, start: b.StartTime, end: b.EndTime, recurrence: b.Recurrence})
	}
	return e.merge(mergeable{start: candidate.StartTime, end: candidate.EndTime, recurrence: candidate.Recurrence}, others)
}

// merge grows the candidate until no remaining record of the same recurrence
// class overlaps it. Touching ranges stay separate.
func (e *Engine) merge(cand mergeable, existing []mergeable) MergePlan {
	plan := MergePlan{Start: cand.start, End: cand.end}
	absorbed := make([]bool, len(existing))

	for grew := true; grew; {
		grew = false
		for i, ex := range existing {
			if absorbed[i] || !e.sameClass(cand, ex) || !e.overlapping(cand, ex) {
				continue
			}
			absorbed[i] = true
			grew = true
			cand = e.union(cand, ex)
			if !plan.Merged {
				plan.Merged = true
				plan.Keep = ex.id
			} else {
				plan.Drop = append(plan.Drop, ex.id)
			}
		}
	}

	plan.Start, plan.End = cand.start, cand.end
	return plan
}

// sameClass holds for two recurring records with the same weekday set, or
// two date-specific records.
func (e *Engine) sameClass(a, b mergeable) bool {
	if (a.recurrence == nil) != (b.recurrence == nil) {
		return false
	}
	if a.recurrence == nil {
		return true
	}
	return !a.recurrence.Empty() && *a.recurrence == *b.recurrence
}

// overlapping compares recurring records by time-of-day and date-specific
// records by instant.
func (e *Engine) overlapping(a, b mergeable) bool {
	if a.recurrence != nil {
		return e.timeOfDay(a).Overlaps(e.timeOfDay(b))
	}
	return a.start.Before(b.end) && b.start.Before(a.end)
}

func (e *Engine) union(a, b mergeable) mergeable {
	if a.recurrence == nil {
		out := a
		if b.start.Before(out.start) {
			out.start = b.start
		}
		if b.end.After(out.end) {
			out.end = b.end
		}
		return out
	}

	ra, rb := e.timeOfDay(a), e.timeOfDay(b)
	lo, hi := min(ra.Start, rb.Start), max(ra.End, rb.End)
	out := a
	anchor := DateOf(a.start.In(e.loc))
	out.start = anchor.At(lo, e.loc)
	out.end = anchor.At(hi, e.loc)
	return out
}

func (e *Engine) timeOfDay(m mergeable) interval.Range {
	s, en := m.start.In(e.loc), m.end.In(e.loc)
	r := interval.Range{Start: interval.MinutesOf(s), End: interval.MinutesOf(en)}
	if DateOf(en).After(DateOf(s)) {
		r.End = interval.MinutesPerDay
	}
	return r
}
