package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Appointment statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// AvailabilityWindow maps to the availability table. Only the time-of-day of
// StartTime and EndTime is used for recurring windows; the date of StartTime
// selects the day for one-off windows.
type AvailabilityWindow struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	TherapistID uuid.UUID         `db:"therapist_id" json:"therapist_id"`
	StartTime   time.Time         `db:"start_time" json:"start_time"`
	EndTime     time.Time         `db:"end_time" json:"end_time"`
	Recurrence  *WeeklyRecurrence `db:"recurrence" json:"recurrence,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

func (w *AvailabilityWindow) IsRecurring() bool { return w.Recurrence != nil }

// TimeOffBlock maps to the time_off table. A one-off block may span several
// days; it then applies on every date from StartTime to EndTime inclusive.
type TimeOffBlock struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	TherapistID uuid.UUID         `db:"therapist_id" json:"therapist_id"`
	StartTime   time.Time         `db:"start_time" json:"start_time"`
	EndTime     time.Time         `db:"end_time" json:"end_time"`
	Reason      string            `db:"reason" json:"reason,omitempty"`
	Recurrence  *WeeklyRecurrence `db:"recurrence" json:"recurrence,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

func (b *TimeOffBlock) IsRecurring() bool { return b.Recurrence != nil }

// Appointment maps to the appointment table.
type Appointment struct {
	ID               uuid.UUID `db:"id" json:"id"`
	TherapistID      uuid.UUID `db:"therapist_id" json:"therapist_id"`
	ClientID         uuid.UUID `db:"client_id" json:"client_id"`
	ClientName       string    `db:"client_name" json:"client_name,omitempty"`
	StartTime        time.Time `db:"start_time" json:"start_time"`
	EndTime          time.Time `db:"end_time" json:"end_time"`
	Status           string    `db:"status" json:"status"`
	Notes            *string   `db:"notes" json:"notes,omitempty"`
	OverridesTimeOff bool      `db:"overrides_time_off" json:"overrides_time_off"`
	OverrideReason   *string   `db:"override_reason" json:"override_reason,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Visible reports whether the appointment occupies time on a timeline.
func (a *Appointment) Visible() bool {
	return visibleStatuses[a.Status]
}

var visibleStatuses = map[string]bool{
	StatusPending: true, StatusConfirmed: true, StatusCompleted: true,
}

// BlockType labels a TimeBlock.
type BlockType string

const (
	BlockAvailability BlockType = "availability"
	BlockTimeOff      BlockType = "time-off"
	BlockAppointment  BlockType = "appointment"
)

// TimeBlock is one labeled, contiguous piece of a resolved day. Start and End
// are minutes since midnight; StartTime and EndTime carry the same values
// rendered as HH:MM:SS.
type TimeBlock struct {
	ID         string    `json:"id"`
	SourceID   uuid.UUID `json:"source_id"`
	Type       BlockType `json:"type"`
	Start      int       `json:"start_minute"`
	End        int       `json:"end_minute"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	IsAllDay   bool      `json:"is_all_day"`
	Recurring  bool      `json:"recurring"`
	Reason     string    `json:"reason,omitempty"`
	ClientName string    `json:"client_name,omitempty"`
	Status     string    `json:"status,omitempty"`
}

// Snapshot is the immutable input of one resolution or conflict check: all
// records of a single therapist, as read in one transaction.
type Snapshot struct {
	Availability []AvailabilityWindow
	TimeOff      []TimeOffBlock
	Appointments []Appointment
}

// Severity grades a conflict.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Conflict describes one category of conflict for a proposed appointment.
type Conflict struct {
	Message   string      `json:"message"`
	Severity  Severity    `json:"severity"`
	SourceIDs []uuid.UUID `json:"source_ids,omitempty"`
}

// ConflictReport is advisory: the caller may still book over it.
type ConflictReport struct {
	HasConflict          bool      `json:"has_conflict"`
	AvailabilityConflict *Conflict `json:"availability_conflict"`
	TimeOffConflict      *Conflict `json:"time_off_conflict"`
	AppointmentConflict  *Conflict `json:"appointment_conflict"`
}

// Proposal is a candidate appointment checked against a Snapshot.
type Proposal struct {
	TherapistID uuid.UUID
	Start       time.Time
	End         time.Time
	// ExcludeAppointmentID skips the appointment being rescheduled.
	ExcludeAppointmentID *uuid.UUID
}
