package scheduling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/cache"
	"github.com/gabeliss/therascheduler-sub001/internal/platform/websocket"
)

// EventTimelineChanged is the websocket event type sent after any change to
// a therapist's records.
const EventTimelineChanged = "timeline.changed"

type storeCache struct {
	store  cache.Store
	logger zerolog.Logger
}

// NewTimelineCache keeps resolved timelines in store, one namespace per
// therapist. Invalidate bumps the namespace so every date is dropped at once.
func NewTimelineCache(store cache.Store, logger zerolog.Logger) TimelineCache {
	return &storeCache{store: store, logger: logger.With().Str("component", "timeline_cache").Logger()}
}

// unknownVersion marks a failed read; Set skips it.
const unknownVersion = -1

func (c *storeCache) Get(ctx context.Context, therapistID uuid.UUID, date Date) ([]TimeBlock, int64, bool) {
	b, version, ok, err := c.store.Get(ctx, therapistID.String(), date.String())
	if err != nil {
		c.logger.Warn().Err(err).Str("therapist_id", therapistID.String()).Msg("cache read failed")
		return nil, unknownVersion, false
	}
	if !ok {
		return nil, version, false
	}
	var blocks []TimeBlock
	if err := json.Unmarshal(b, &blocks); err != nil {
		c.logger.Warn().Err(err).Str("therapist_id", therapistID.String()).Msg("cached timeline is unreadable")
		return nil, version, false
	}
	return blocks, version, true
}

func (c *storeCache) Set(ctx context.Context, therapistID uuid.UUID, date Date, version int64, blocks []TimeBlock) {
	if version < 0 {
		return
	}
	b, err := json.Marshal(blocks)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, therapistID.String(), date.String(), version, b); err != nil {
		c.logger.Warn().Err(err).Str("therapist_id", therapistID.String()).Msg("cache write failed")
	}
}

func (c *storeCache) Invalidate(ctx context.Context, therapistID uuid.UUID) {
	if err := c.store.Bump(ctx, therapistID.String()); err != nil {
		c.logger.Error().Err(err).Str("therapist_id", therapistID.String()).Msg("cache invalidation failed")
	}
}

type hubNotifier struct {
	hub *websocket.Hub
}

// NewHubNotifier broadcasts timeline changes to websocket clients watching
// the therapist.
func NewHubNotifier(hub *websocket.Hub) ChangeNotifier {
	return &hubNotifier{hub: hub}
}

func (n *hubNotifier) NotifyChanged(therapistID uuid.UUID, dates ...Date) {
	var days []string
	for _, d := range dates {
		days = append(days, d.String())
	}
	n.hub.Broadcast(websocket.TherapistTopic(therapistID.String()), websocket.Event{
		Type:      EventTimelineChanged,
		Dates:     days,
		Timestamp: time.Now().UTC(),
	})
}
