package scheduling

import (
	"time"

	"github.com/rs/zerolog"
)

// Engine resolves timelines and checks proposals. It holds no records and is
// safe for concurrent use; every call works on the Snapshot it is given.
type Engine struct {
	logger zerolog.Logger
	loc    *time.Location
	now    func() time.Time
}

type Option func(*Engine)

// WithLocation sets the location record timestamps are read in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock replaces time.Now, which decides whether a proposal lies in the past.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger: logger.With().Str("component", "timeline").Logger(),
		loc:    time.UTC,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the location record timestamps are read in.
func (e *Engine) Location() *time.Location { return e.loc }
