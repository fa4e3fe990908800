package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value   []byte
	expires time.Time
}

type memNamespace struct {
	version int64
	entries map[string]memEntry
}

// MemoryStore is the in-process Store used when no Redis is configured.
type MemoryStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	now        func() time.Time
	namespaces map[string]*memNamespace
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:        ttl,
		now:        time.Now,
		namespaces: make(map[string]*memNamespace),
	}
}

func (s *MemoryStore) namespace(name string) *memNamespace {
	ns, ok := s.namespaces[name]
	if !ok {
		ns = &memNamespace{entries: make(map[string]memEntry)}
		s.namespaces[name] = ns
	}
	return ns
}

func (s *MemoryStore) Get(_ context.Context, namespace, key string) ([]byte, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespace(namespace)
	e, ok := ns.entries[key]
	if !ok {
		return nil, ns.version, false, nil
	}
	if !s.now().Before(e.expires) {
		delete(ns.entries, key)
		return nil, ns.version, false, nil
	}
	return e.value, ns.version, true, nil
}

// Set is a no-op when the namespace was bumped past version.
func (s *MemoryStore) Set(_ context.Context, namespace, key string, version int64, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespace(namespace)
	if ns.version != version {
		return nil
	}
	ns.entries[key] = memEntry{value: value, expires: s.now().Add(s.ttl)}
	return nil
}

// Bump drops every entry of the namespace and advances its version.
func (s *MemoryStore) Bump(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespace(namespace)
	ns.version++
	ns.entries = make(map[string]memEntry)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
