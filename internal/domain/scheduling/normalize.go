package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/interval"
)

// entry is a record reduced to what one date needs: its minute range on that
// date and the labels its blocks carry.
type entry struct {
	id        uuid.UUID
	kind      BlockType
	span      interval.Range
	recurring bool
	allDay    bool
	reason    string
	client    string
	status    string
	overrides bool
}

// day holds the records that apply to one date, normalized once.
type day struct {
	date         Date
	dated        []entry // date-specific availability
	recurring    []entry // recurring availability
	timeOff      []entry
	appointments []entry
}

// availability returns the windows in effect: date-specific windows replace
// the recurring ones entirely whenever any exist.
func (d *day) availability() []entry {
	if len(d.dated) > 0 {
		return d.dated
	}
	return d.recurring
}

func (d *day) allDayTimeOff() []entry {
	var out []entry
	for _, t := range d.timeOff {
		if t.allDay {
			out = append(out, t)
		}
	}
	return out
}

func (d *day) partialTimeOff() []entry {
	var out []entry
	for _, t := range d.timeOff {
		if !t.allDay {
			out = append(out, t)
		}
	}
	return out
}

func (e *Engine) normalize(date Date, snap Snapshot) *day {
	d := &day{date: date}

	for i := range snap.Availability {
		w := &snap.Availability[i]
		ent, ok, err := e.availabilityEntry(date, w)
		if err != nil {
			e.skip(w.ID, BlockAvailability, err)
			continue
		}
		if !ok {
			continue
		}
		if ent.recurring {
			d.recurring = append(d.recurring, ent)
		} else {
			d.dated = append(d.dated, ent)
		}
	}

	for i := range snap.TimeOff {
		b := &snap.TimeOff[i]
		ent, ok, err := e.timeOffEntry(date, b)
		if err != nil {
			e.skip(b.ID, BlockTimeOff, err)
			continue
		}
		if ok {
			d.timeOff = append(d.timeOff, ent)
		}
	}

	for i := range snap.Appointments {
		a := &snap.Appointments[i]
		if !a.Visible() {
			continue
		}
		ent, ok, err := e.appointmentEntry(date, a)
		if err != nil {
			e.skip(a.ID, BlockAppointment, err)
			continue
		}
		if ok {
			d.appointments = append(d.appointments, ent)
		}
	}

	return d
}

func (e *Engine) skip(id uuid.UUID, kind BlockType, err error) {
	e.logger.Warn().Err(err).
		Str("record_id", id.String()).
		Str("record_kind", string(kind)).
		Msg("skipping record")
}

// sameDaySpan reads the time-of-day range of start..end. An end on a later
// date than start is clipped to midnight.
func (e *Engine) sameDaySpan(start, end time.Time) (interval.Range, error) {
	if start.IsZero() || end.IsZero() {
		return interval.Range{}, fmt.Errorf("%w: missing start or end", ErrInvalidDate)
	}
	s, en := start.In(e.loc), end.In(e.loc)
	r := interval.Range{Start: interval.MinutesOf(s), End: interval.MinutesOf(en)}
	if DateOf(en).After(DateOf(s)) {
		r.End = interval.MinutesPerDay
	}
	if r.Empty() {
		return r, fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	return r, nil
}

func (e *Engine) availabilityEntry(date Date, w *AvailabilityWindow) (entry, bool, error) {
	span, err := e.sameDaySpan(w.StartTime, w.EndTime)
	if err != nil {
		return entry{}, false, err
	}
	ent := entry{id: w.ID, kind: BlockAvailability, span: span, recurring: w.IsRecurring()}
	if ent.recurring {
		return ent, w.Recurrence.AppliesOn(date, e.dateOf(w.CreatedAt)), nil
	}
	return ent, e.dateOf(w.StartTime) == date, nil
}

// timeOffEntry places a time-off block on date. A multi-day one-off block
// covers the rest of its first day, whole days in between, and its last day
// up to its end time.
func (e *Engine) timeOffEntry(date Date, b *TimeOffBlock) (entry, bool, error) {
	if b.StartTime.IsZero() || b.EndTime.IsZero() {
		return entry{}, false, fmt.Errorf("%w: missing start or end", ErrInvalidDate)
	}
	ent := entry{id: b.ID, kind: BlockTimeOff, reason: b.Reason, recurring: b.IsRecurring()}

	start, end := b.StartTime.In(e.loc), b.EndTime.In(e.loc)
	first, last := DateOf(start), DateOf(end)

	if ent.recurring || first == last {
		span, err := e.sameDaySpan(start, end)
		if err != nil {
			return entry{}, false, err
		}
		ent.span = span
		ent.allDay = IsAllDay(span.Start, span.End)
		if ent.recurring {
			return ent, b.Recurrence.AppliesOn(date, e.dateOf(b.CreatedAt)), nil
		}
		return ent, first == date, nil
	}

	if last.Before(first) {
		return entry{}, false, fmt.Errorf("%w: ends before it starts", ErrInvalidRange)
	}
	if date.Before(first) || date.After(last) {
		return ent, false, nil
	}
	ent.span = interval.Range{Start: 0, End: interval.MinutesPerDay}
	if date == first {
		ent.span.Start = interval.MinutesOf(start)
	}
	if date == last {
		ent.span.End = interval.MinutesOf(end)
	}
	if ent.span.Empty() {
		return ent, false, nil
	}
	ent.allDay = IsAllDay(ent.span.Start, ent.span.End)
	return ent, true, nil
}

func (e *Engine) appointmentEntry(date Date, a *Appointment) (entry, bool, error) {
	span, err := e.sameDaySpan(a.StartTime, a.EndTime)
	if err != nil {
		return entry{}, false, err
	}
	ent := entry{
		id:        a.ID,
		kind:      BlockAppointment,
		span:      span,
		client:    a.ClientName,
		status:    a.Status,
		overrides: a.OverridesTimeOff,
	}
	return ent, e.dateOf(a.StartTime) == date, nil
}

func (e *Engine) dateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	return DateOf(t.In(e.loc))
}
