// Package telemetry exposes request and booking metrics in the Prometheus
// text exposition format.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram keeps non-cumulative bucket counts; cumulative counts are
// computed at export.
type histogram struct {
	mu      sync.Mutex
	buckets []int64
	count   int64
	sum     float64
}

func newHistogram() *histogram {
	return &histogram{buckets: make([]int64, len(durationBuckets))}
}

func (h *histogram) observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range durationBuckets {
		if v <= b {
			h.buckets[i]++
			return
		}
	}
}

type histSnapshot struct {
	cumulative []int64
	count      int64
	sum        float64
}

func (h *histogram) snapshot() histSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.buckets))
	var running int64
	for i, c := range h.buckets {
		running += c
		cum[i] = running
	}
	return histSnapshot{cumulative: cum, count: h.count, sum: h.sum}
}

type gauge struct {
	name, help string
	fn         func() float64
}

// Metrics is the process-wide registry. The zero value is not usable; call New.
type Metrics struct {
	mu       sync.RWMutex
	requests map[string]*histogram // method|route|status
	events   map[string]*int64     // event type
	gauges   []gauge
	active   int64
}

func New() *Metrics {
	return &Metrics{
		requests: make(map[string]*histogram),
		events:   make(map[string]*int64),
	}
}

func (m *Metrics) requestHistogram(key string) *histogram {
	m.mu.RLock()
	h, ok := m.requests[key]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.requests[key]; !ok {
		h = newHistogram()
		m.requests[key] = h
	}
	return h
}

// Middleware records the duration of every request labelled by method,
// route pattern and status code.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}
			atomic.AddInt64(&m.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&m.active, -1)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			key := c.Request().Method + "|" + route + "|" + strconv.Itoa(status)
			m.requestHistogram(key).observe(time.Since(start).Seconds())
			return err
		}
	}
}

// IncEvent counts one published domain event.
func (m *Metrics) IncEvent(eventType string) {
	m.mu.RLock()
	p, ok := m.events[eventType]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if p, ok = m.events[eventType]; !ok {
			p = new(int64)
			m.events[eventType] = p
		}
		m.mu.Unlock()
	}
	atomic.AddInt64(p, 1)
}

// EventCount returns how many events of eventType have been counted.
func (m *Metrics) EventCount(eventType string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.events[eventType]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// Gauge registers a value sampled at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges, gauge{name: name, help: help, fn: fn})
}

// Publisher matches the event publisher the scheduling service depends on.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

type countingPublisher struct {
	next    Publisher
	metrics *Metrics
}

// CountingPublisher counts every successfully published event by routing key.
func (m *Metrics) CountingPublisher(next Publisher) Publisher {
	return &countingPublisher{next: next, metrics: m}
}

func (p *countingPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	if err := p.next.Publish(ctx, routingKey, payload); err != nil {
		return err
	}
	p.metrics.IncEvent(routingKey)
	return nil
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(m.Render()))
	}
}

// Render writes every metric in exposition format with stable ordering.
func (m *Metrics) Render() string {
	var b strings.Builder

	m.mu.RLock()
	reqKeys := sortedKeys(m.requests)
	hists := make([]*histogram, len(reqKeys))
	for i, k := range reqKeys {
		hists[i] = m.requests[k]
	}
	evKeys := sortedKeys(m.events)
	evVals := make([]int64, len(evKeys))
	for i, k := range evKeys {
		evVals[i] = atomic.LoadInt64(m.events[k])
	}
	gauges := append([]gauge(nil), m.gauges...)
	m.mu.RUnlock()

	const reqName = "http_request_duration_seconds"
	fmt.Fprintf(&b, "# HELP %s Duration of HTTP requests in seconds.\n", reqName)
	fmt.Fprintf(&b, "# TYPE %s histogram\n", reqName)
	for i, key := range reqKeys {
		parts := strings.SplitN(key, "|", 3)
		labels := fmt.Sprintf("method=%q,route=%q,status=%q", parts[0], parts[1], parts[2])
		writeHistogram(&b, reqName, labels, hists[i].snapshot())
	}

	b.WriteString("# HELP http_requests_in_flight Requests currently being served.\n")
	b.WriteString("# TYPE http_requests_in_flight gauge\n")
	fmt.Fprintf(&b, "http_requests_in_flight %d\n", atomic.LoadInt64(&m.active))

	b.WriteString("# HELP scheduling_events_total Domain events published by type.\n")
	b.WriteString("# TYPE scheduling_events_total counter\n")
	for i, k := range evKeys {
		fmt.Fprintf(&b, "scheduling_events_total{type=%q} %d\n", k, evVals[i])
	}

	for _, g := range gauges {
		fmt.Fprintf(&b, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(&b, "%s %s\n", g.name, formatFloat(g.fn()))
	}
	return b.String()
}

func writeHistogram(b *strings.Builder, name, labels string, s histSnapshot) {
	for i, le := range durationBuckets {
		fmt.Fprintf(b, "%s_bucket{%s,le=%q} %d\n", name, labels, formatFloat(le), s.cumulative[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, s.count)
	fmt.Fprintf(b, "%s_sum{%s} %s\n", name, labels, formatFloat(s.sum))
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, s.count)
}

func formatFloat(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
