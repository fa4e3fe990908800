package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, 8)}
}

func TestHub_RegisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Register(newTestClient("c1", "therapist:a"))

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("therapist:a") != 1 {
		t.Fatalf("expected 1 client on therapist:a, got %d", hub.TopicCount("therapist:a"))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("c1", "therapist:a")
	hub.Register(client)
	hub.Unregister(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 || hub.TopicCount("therapist:a") != 0 {
		t.Fatalf("expected empty hub, got %d clients", hub.ClientCount())
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed after unregister")
	}
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c1 := newTestClient("c1", "therapist:a")
	c2 := newTestClient("c2", "therapist:a")
	other := newTestClient("c3", "therapist:b")
	hub.Register(c1)
	hub.Register(c2)
	hub.Register(other)

	hub.Broadcast("therapist:a", Event{Type: "timeline.changed", Dates: []string{"2030-01-07"}, Timestamp: time.Now()})

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Send:
			var got Event
			if err := json.Unmarshal(msg, &got); err != nil {
				t.Fatalf("client %s: failed to unmarshal: %v", c.ID, err)
			}
			if got.Topic != "therapist:a" || got.Type != "timeline.changed" {
				t.Errorf("client %s: unexpected event %+v", c.ID, got)
			}
			if len(got.Dates) != 1 || got.Dates[0] != "2030-01-07" {
				t.Errorf("client %s: expected dates [2030-01-07], got %v", c.ID, got.Dates)
			}
		default:
			t.Fatalf("client %s did not receive event", c.ID)
		}
	}
	select {
	case <-other.Send:
		t.Fatal("therapist:b client should not receive therapist:a events")
	default:
	}
}

func TestHub_BroadcastFullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", Topics: []string{"t"}, Send: make(chan []byte, 1)}
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		hub.Broadcast("t", Event{Type: "x"})
		hub.Broadcast("t", Event{Type: "y"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
	if len(client.Send) != 1 {
		t.Errorf("expected 1 buffered message, got %d", len(client.Send))
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	NewHub(zerolog.Nop()).Broadcast("nobody", Event{Type: "timeline.changed"})
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	const n = 100

	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = newTestClient(uuid.NewString(), "therapist:x")
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(c *Client) {
			defer wg.Done()
			hub.Register(c)
			hub.Unregister(c)
		}(clients[i])
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestTherapistTopic(t *testing.T) {
	if got := TherapistTopic("ABC-def"); got != "therapist:abc-def" {
		t.Errorf("expected therapist:abc-def, got %s", got)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"https://app.example.com"}, "", true},
		{"no restriction", nil, "https://evil.example.com", true},
		{"wildcard", []string{"*"}, "https://any.example.com", true},
		{"listed", []string{"https://app.example.com"}, "https://APP.example.com", true},
		{"unlisted", []string{"https://app.example.com"}, "https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(tt.allowed)(req); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestHandler_InvalidTherapistID(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), nil)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.HandleTherapist(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_EndToEnd(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, nil)
	e := echo.New()
	e.GET("/ws/therapists/:id", h.HandleTherapist)
	srv := httptest.NewServer(e)
	defer srv.Close()

	therapist := uuid.New().String()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/therapists/" + therapist
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	topic := TherapistTopic(therapist)
	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(topic) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(topic, Event{Type: "timeline.changed", Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if got.Type != "timeline.changed" || got.Topic != topic {
		t.Errorf("unexpected event %+v", got)
	}
}
