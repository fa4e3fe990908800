package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AvailabilityRepository interface {
	Create(ctx context.Context, w *AvailabilityWindow) error
	GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	Update(ctx context.Context, w *AvailabilityWindow) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByTherapist(ctx context.Context, therapistID uuid.UUID) ([]AvailabilityWindow, error)
}

type TimeOffRepository interface {
	Create(ctx context.Context, b *TimeOffBlock) error
	GetByID(ctx context.Context, id uuid.UUID) (*TimeOffBlock, error)
	Update(ctx context.Context, b *TimeOffBlock) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByTherapist(ctx context.Context, therapistID uuid.UUID) ([]TimeOffBlock, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	// ListBetween returns appointments starting in [from, to).
	ListBetween(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]Appointment, error)
	List(ctx context.Context, therapistID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
}

// TxRunner runs fn in one transaction carried by the context passed to fn.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TimelineCache stores resolved timelines. Implementations must treat a miss
// and a failed read alike: the caller resolves again. Get returns the cache
// version it read, and Set must drop blocks whose version was invalidated in
// the meantime.
type TimelineCache interface {
	Get(ctx context.Context, therapistID uuid.UUID, date Date) ([]TimeBlock, int64, bool)
	Set(ctx context.Context, therapistID uuid.UUID, date Date, version int64, blocks []TimeBlock)
	Invalidate(ctx context.Context, therapistID uuid.UUID)
}

// EventPublisher announces booking changes to other services.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

// ChangeNotifier pushes "this therapist's timeline changed" to live clients.
type ChangeNotifier interface {
	NotifyChanged(therapistID uuid.UUID, dates ...Date)
}
