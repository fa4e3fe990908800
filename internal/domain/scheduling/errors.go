package scheduling

import (
	"errors"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/interval"
)

// Record-level errors. A record failing with one of these is logged and left
// out of the result; resolution carries on with the remaining records.
var (
	ErrInvalidTimeFormat   = interval.ErrInvalidTimeFormat
	ErrInvalidDate         = errors.New("invalid date")
	ErrMalformedRecurrence = errors.New("malformed recurrence")
)

// Service-level errors.
var (
	ErrRequired           = errors.New("required field missing")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("proposed time conflicts with the schedule")
	ErrDoubleBooked       = errors.New("therapist already has an appointment at this time")
	ErrOverrideReason     = errors.New("override_reason is required to book over time off")
	ErrInvalidRange       = errors.New("end must be after start")
	ErrInvalidStatus      = errors.New("invalid appointment status")
	ErrInvalidTransition  = errors.New("appointment status cannot change from a terminal state")
	ErrForbiddenTherapist = errors.New("record belongs to another therapist")
)
