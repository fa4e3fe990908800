package scheduling

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/interval"
)

var (
	testTherapist = uuid.MustParse("6b1f4c1e-1d9a-4f0e-9a35-2f5d8c3b7a10")
	testCreated   = Date{Year: 2029, Month: time.December, Day: 3} // a Monday
	testMonday    = Date{Year: 2030, Month: time.January, Day: 7}
	testNow       = time.Date(2029, time.June, 1, 9, 0, 0, 0, time.UTC)
)

func newTestEngine() *Engine {
	return NewEngine(zerolog.Nop(), WithClock(func() time.Time { return testNow }))
}

func at(d Date, hhmm string) time.Time {
	m, err := interval.ToMinutes(hhmm)
	if err != nil {
		panic(err)
	}
	return d.At(m, time.UTC)
}

func weekly(days ...time.Weekday) *WeeklyRecurrence {
	r := NewWeeklyRecurrence(days...)
	return &r
}

func recurringWindow(day time.Weekday, start, end string) AvailabilityWindow {
	return AvailabilityWindow{
		ID:          uuid.New(),
		TherapistID: testTherapist,
		StartTime:   at(testCreated, start),
		EndTime:     at(testCreated, end),
		Recurrence:  weekly(day),
		CreatedAt:   at(testCreated, "08:00"),
	}
}

func datedWindow(d Date, start, end string) AvailabilityWindow {
	return AvailabilityWindow{
		ID:          uuid.New(),
		TherapistID: testTherapist,
		StartTime:   at(d, start),
		EndTime:     at(d, end),
		CreatedAt:   at(testCreated, "08:00"),
	}
}

func recurringTimeOff(day time.Weekday, start, end, reason string) TimeOffBlock {
	return TimeOffBlock{
		ID:          uuid.New(),
		TherapistID: testTherapist,
		StartTime:   at(testCreated, start),
		EndTime:     at(testCreated, end),
		Reason:      reason,
		Recurrence:  weekly(day),
		CreatedAt:   at(testCreated, "08:00"),
	}
}

func datedTimeOff(d Date, start, end, reason string) TimeOffBlock {
	return TimeOffBlock{
		ID:          uuid.New(),
		TherapistID: testTherapist,
		StartTime:   at(d, start),
		EndTime:     at(d, end),
		Reason:      reason,
		CreatedAt:   at(testCreated, "08:00"),
	}
}

func appointment(d Date, start, end, status string) Appointment {
	return Appointment{
		ID:          uuid.New(),
		TherapistID: testTherapist,
		ClientID:    uuid.New(),
		ClientName:  "Jane Doe",
		StartTime:   at(d, start),
		EndTime:     at(d, end),
		Status:      status,
		CreatedAt:   at(testCreated, "08:00"),
	}
}
