package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/cache"
	"github.com/gabeliss/therascheduler-sub001/internal/platform/websocket"
)

type failingStore struct{}

func (failingStore) Get(context.Context, string, string) ([]byte, int64, bool, error) {
	return nil, 0, false, errors.New("redis down")
}
func (failingStore) Set(context.Context, string, string, int64, []byte) error {
	return errors.New("redis down")
}
func (failingStore) Bump(context.Context, string) error { return errors.New("redis down") }
func (failingStore) Ping(context.Context) error         { return errors.New("redis down") }

func TestTimelineCache_RoundTripAndInvalidate(t *testing.T) {
	c := NewTimelineCache(cache.NewMemoryStore(time.Minute), zerolog.Nop())
	ctx := context.Background()
	date := testMonday

	blocks := []TimeBlock{{ID: "a", Type: BlockAvailability, Start: 540, End: 600, StartTime: "09:00:00", EndTime: "10:00:00"}}
	_, ver, _ := c.Get(ctx, testTherapist, date)
	c.Set(ctx, testTherapist, date, ver, blocks)

	got, _, ok := c.Get(ctx, testTherapist, date)
	if !ok || len(got) != 1 || got[0].ID != "a" || got[0].End != 600 {
		t.Fatalf("expected cached block, got %v ok=%v", got, ok)
	}
	if _, _, ok := c.Get(ctx, uuid.New(), date); ok {
		t.Error("expected miss for another therapist")
	}

	c.Invalidate(ctx, testTherapist)
	if _, _, ok := c.Get(ctx, testTherapist, date); ok {
		t.Error("expected miss after invalidate")
	}
}

func TestTimelineCache_SetAfterInvalidateIsDropped(t *testing.T) {
	c := NewTimelineCache(cache.NewMemoryStore(time.Minute), zerolog.Nop())
	ctx := context.Background()

	_, ver, _ := c.Get(ctx, testTherapist, testMonday)
	c.Invalidate(ctx, testTherapist)
	c.Set(ctx, testTherapist, testMonday, ver, []TimeBlock{{ID: "old", Type: BlockAvailability, Start: 540, End: 1020}})

	if got, _, ok := c.Get(ctx, testTherapist, testMonday); ok {
		t.Errorf("expected miss, got %+v", got)
	}
}

func TestTimelineCache_StoreFailureIsAMiss(t *testing.T) {
	c := NewTimelineCache(failingStore{}, zerolog.Nop())
	ctx := context.Background()
	_, ver, _ := c.Get(ctx, testTherapist, testMonday)
	if ver != unknownVersion {
		t.Errorf("expected unknown version on failed read, got %d", ver)
	}
	c.Set(ctx, testTherapist, testMonday, ver, nil)
	c.Invalidate(ctx, testTherapist)
	if _, _, ok := c.Get(ctx, testTherapist, testMonday); ok {
		t.Error("expected miss when store fails")
	}
}

func TestHubNotifier_Broadcasts(t *testing.T) {
	hub := websocket.NewHub(zerolog.Nop())
	client := &websocket.Client{
		ID:     "w1",
		Topics: []string{websocket.TherapistTopic(testTherapist.String())},
		Send:   make(chan []byte, 1),
	}
	hub.Register(client)

	NewHubNotifier(hub).NotifyChanged(testTherapist, testMonday)

	select {
	case msg := <-client.Send:
		var ev websocket.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if ev.Type != EventTimelineChanged {
			t.Errorf("expected %s, got %s", EventTimelineChanged, ev.Type)
		}
		if len(ev.Dates) != 1 || ev.Dates[0] != "2030-01-07" {
			t.Errorf("expected dates [2030-01-07], got %v", ev.Dates)
		}
	default:
		t.Fatal("expected a broadcast")
	}
}
