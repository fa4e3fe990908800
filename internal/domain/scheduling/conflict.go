package scheduling

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/interval"
)

// CheckConflicts grades a proposed appointment against availability, time-off
// and other appointments. A proposal starting in the past never conflicts.
// The report is advisory; nothing here blocks a booking.
func (e *Engine) CheckConflicts(p Proposal, snap Snapshot) ConflictReport {
	var report ConflictReport
	if p.Start.Before(e.now()) {
		return report
	}

	span, err := e.sameDaySpan(p.Start, p.End)
	if err != nil {
		e.logger.Debug().Err(err).Msg("proposal has no usable range")
		return report
	}
	d := e.normalize(e.dateOf(p.Start), snap)

	report.AvailabilityConflict = availabilityConflict(d.availability(), span)
	report.TimeOffConflict = timeOffConflict(d.timeOff, span)
	report.AppointmentConflict = e.appointmentConflict(p, snap.Appointments)
	report.HasConflict = report.AvailabilityConflict != nil ||
		report.TimeOffConflict != nil ||
		report.AppointmentConflict != nil
	return report
}

func availabilityConflict(windows []entry, span interval.Range) *Conflict {
	if len(windows) == 0 {
		return &Conflict{Message: "No availability set for this day", Severity: SeverityHigh}
	}
	for _, w := range windows {
		if w.span.Contains(span) {
			return nil
		}
	}
	if len(interval.Subtract(span, spans(windows)...)) == 0 {
		return nil
	}
	return &Conflict{
		Message:  fmt.Sprintf("%s falls outside your available hours", rangeLabel(span)),
		Severity: SeverityMedium,
	}
}

func timeOffConflict(blocks []entry, span interval.Range) *Conflict {
	var (
		hits    []entry
		hasDate bool
	)
	for _, b := range blocks {
		if b.span.Overlaps(span) {
			hits = append(hits, b)
			hasDate = hasDate || !b.recurring
		}
	}
	if len(hits) == 0 {
		return nil
	}

	c := &Conflict{Severity: SeverityMedium}
	if hasDate {
		c.Severity = SeverityHigh
	}
	var reasons []string
	for _, h := range hits {
		c.SourceIDs = append(c.SourceIDs, h.id)
		if h.reason != "" {
			reasons = append(reasons, h.reason)
		}
	}
	c.Message = "Overlaps time off"
	if len(reasons) > 0 {
		c.Message += ": " + strings.Join(reasons, "; ")
	}
	return c
}

// appointmentConflict compares absolute instants so that appointments
// crossing midnight are caught too.
func (e *Engine) appointmentConflict(p Proposal, appts []Appointment) *Conflict {
	var (
		ids    []uuid.UUID
		labels []string
	)
	for i := range appts {
		a := &appts[i]
		if !a.Visible() {
			continue
		}
		if p.TherapistID != uuid.Nil && a.TherapistID != p.TherapistID {
			continue
		}
		if p.ExcludeAppointmentID != nil && a.ID == *p.ExcludeAppointmentID {
			continue
		}
		if !(a.StartTime.Before(p.End) && p.Start.Before(a.EndTime)) {
			continue
		}
		ids = append(ids, a.ID)
		label := fmt.Sprintf("%s-%s", a.StartTime.In(e.loc).Format("15:04"), a.EndTime.In(e.loc).Format("15:04"))
		if a.ClientName != "" {
			label = a.ClientName + " " + label
		}
		labels = append(labels, label)
	}
	if len(ids) == 0 {
		return nil
	}

	noun := "appointment"
	if len(ids) > 1 {
		noun = "appointments"
	}
	return &Conflict{
		Message:   fmt.Sprintf("Overlaps %d existing %s: %s", len(ids), noun, strings.Join(labels, ", ")),
		Severity:  SeverityHigh,
		SourceIDs: ids,
	}
}

func rangeLabel(r interval.Range) string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", r.Start/60, r.Start%60, r.End/60, r.End%60)
}
