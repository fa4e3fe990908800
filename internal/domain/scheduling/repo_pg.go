package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func expectOne(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// recurrenceColumns adapts the stored recurrence shapes into one value. The
// descriptor column wins; rows written before it existed fall back to
// day_of_week. Malformed values are logged and fail closed.
func recurrenceColumns(logger zerolog.Logger, id uuid.UUID, desc *string, dayOfWeek *int, isRecurring bool) *WeeklyRecurrence {
	if desc != nil {
		r, err := ParseRecurrence(*desc)
		if err != nil {
			logger.Warn().Err(err).Str("record_id", id.String()).Msg("stored recurrence is malformed")
		}
		return &r
	}
	r, err := RecurrenceFromDayOfWeek(dayOfWeek, isRecurring)
	if err != nil {
		logger.Warn().Err(err).Str("record_id", id.String()).Msg("stored day_of_week is malformed")
	}
	return r
}

// recurrenceValues is the inverse of recurrenceColumns. day_of_week is kept
// filled for single-day sets so older readers still see them.
func recurrenceValues(r *WeeklyRecurrence) (desc *string, dayOfWeek *int, isRecurring bool) {
	if r == nil {
		return nil, nil, false
	}
	s := r.String()
	if days := r.Days(); len(days) == 1 {
		d := int(days[0])
		dayOfWeek = &d
	}
	return &s, dayOfWeek, true
}

// =========== Availability Repository ===========

type availabilityRepoPG struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewAvailabilityRepoPG(pool *pgxpool.Pool, logger zerolog.Logger) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool, logger: logger}
}

const availCols = `id, therapist_id, start_time, end_time, recurrence, day_of_week, is_recurring, created_at, updated_at`

func (r *availabilityRepoPG) scan(row pgx.Row) (*AvailabilityWindow, error) {
	var (
		w           AvailabilityWindow
		desc        *string
		dayOfWeek   *int
		isRecurring bool
	)
	if err := row.Scan(&w.ID, &w.TherapistID, &w.StartTime, &w.EndTime,
		&desc, &dayOfWeek, &isRecurring, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.Recurrence = recurrenceColumns(r.logger, w.ID, desc, dayOfWeek, isRecurring)
	return &w, nil
}

func (r *availabilityRepoPG) Create(ctx context.Context, w *AvailabilityWindow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	desc, dow, recurring := recurrenceValues(w.Recurrence)
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO availability (id, therapist_id, start_time, end_time, recurrence, day_of_week, is_recurring)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		w.ID, w.TherapistID, w.StartTime, w.EndTime, desc, dow, recurring,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
}

func (r *availabilityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	w, err := r.scan(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+availCols+` FROM availability WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "availability")
	}
	return w, nil
}

func (r *availabilityRepoPG) Update(ctx context.Context, w *AvailabilityWindow) error {
	desc, dow, recurring := recurrenceValues(w.Recurrence)
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE availability SET start_time=$2, end_time=$3, recurrence=$4, day_of_week=$5, is_recurring=$6,
			updated_at=NOW()
		WHERE id = $1`,
		w.ID, w.StartTime, w.EndTime, desc, dow, recurring)
	return expectOne(tag, err, "availability")
}

func (r *availabilityRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM availability WHERE id = $1`, id)
	return expectOne(tag, err, "availability")
}

func (r *availabilityRepoPG) ListByTherapist(ctx context.Context, therapistID uuid.UUID) ([]AvailabilityWindow, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+availCols+` FROM availability WHERE therapist_id = $1 ORDER BY start_time`, therapistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []AvailabilityWindow
	for rows.Next() {
		w, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *w)
	}
	return items, rows.Err()
}

// =========== Time-Off Repository ===========

type timeOffRepoPG struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewTimeOffRepoPG(pool *pgxpool.Pool, logger zerolog.Logger) TimeOffRepository {
	return &timeOffRepoPG{pool: pool, logger: logger}
}

const timeOffCols = `id, therapist_id, start_time, end_time, reason, recurrence, day_of_week, is_recurring, created_at, updated_at`

func (r *timeOffRepoPG) scan(row pgx.Row) (*TimeOffBlock, error) {
	var (
		b           TimeOffBlock
		desc        *string
		dayOfWeek   *int
		isRecurring bool
	)
	if err := row.Scan(&b.ID, &b.TherapistID, &b.StartTime, &b.EndTime, &b.Reason,
		&desc, &dayOfWeek, &isRecurring, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Recurrence = recurrenceColumns(r.logger, b.ID, desc, dayOfWeek, isRecurring)
	return &b, nil
}

func (r *timeOffRepoPG) Create(ctx context.Context, b *TimeOffBlock) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	desc, dow, recurring := recurrenceValues(b.Recurrence)
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO time_off (id, therapist_id, start_time, end_time, reason, recurrence, day_of_week, is_recurring)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		b.ID, b.TherapistID, b.StartTime, b.EndTime, b.Reason, desc, dow, recurring,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *timeOffRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TimeOffBlock, error) {
	b, err := r.scan(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+timeOffCols+` FROM time_off WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "time off")
	}
	return b, nil
}

func (r *timeOffRepoPG) Update(ctx context.Context, b *TimeOffBlock) error {
	desc, dow, recurring := recurrenceValues(b.Recurrence)
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE time_off SET start_time=$2, end_time=$3, reason=$4, recurrence=$5, day_of_week=$6,
			is_recurring=$7, updated_at=NOW()
		WHERE id = $1`,
		b.ID, b.StartTime, b.EndTime, b.Reason, desc, dow, recurring)
	return expectOne(tag, err, "time off")
}

func (r *timeOffRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM time_off WHERE id = $1`, id)
	return expectOne(tag, err, "time off")
}

func (r *timeOffRepoPG) ListByTherapist(ctx context.Context, therapistID uuid.UUID) ([]TimeOffBlock, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+timeOffCols+` FROM time_off WHERE therapist_id = $1 ORDER BY start_time`, therapistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TimeOffBlock
	for rows.Next() {
		b, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *b)
	}
	return items, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, therapist_id, client_id, client_name, start_time, end_time, status, notes,
	overrides_time_off, override_reason, created_at, updated_at`

func (r *appointmentRepoPG) scan(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.TherapistID, &a.ClientID, &a.ClientName, &a.StartTime, &a.EndTime,
		&a.Status, &a.Notes, &a.OverridesTimeOff, &a.OverrideReason, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

// Create relies on the appointment_no_double_booking exclusion constraint to
// reject a second live appointment over the same instant.
func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, therapist_id, client_id, client_name, start_time, end_time, status,
			notes, overrides_time_off, override_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.TherapistID, a.ClientID, a.ClientName, a.StartTime, a.EndTime, a.Status,
		a.Notes, a.OverridesTimeOff, a.OverrideReason,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.HasCode(err, db.CodeExclusionViolation) {
		return ErrDoubleBooked
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scan(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "appointment")
	}
	return a, nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx,
		`UPDATE appointment SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if db.HasCode(err, db.CodeExclusionViolation) {
		return ErrDoubleBooked
	}
	return expectOne(tag, err, "appointment")
}

func (r *appointmentRepoPG) ListBetween(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE therapist_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time`, therapistID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Appointment
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) List(ctx context.Context, therapistID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE therapist_id = $1`, therapistID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE therapist_id = $1 ORDER BY start_time DESC LIMIT $2 OFFSET $3`, therapistID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
