// Package cache holds short-lived values under versioned namespaces. Bumping
// a namespace's version orphans every value written under the old one, which
// then ages out through its TTL.
package cache

import (
	"context"
	"time"
)

// Store reports the namespace version every Get observed. Set takes that
// version back and writes nothing a reader at a newer version can see, so a
// value computed before a Bump never outlives it.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, int64, bool, error)
	Set(ctx context.Context, namespace, key string, version int64, value []byte) error
	Bump(ctx context.Context, namespace string) error
	Ping(ctx context.Context) error
}

const DefaultTTL = 5 * time.Minute
