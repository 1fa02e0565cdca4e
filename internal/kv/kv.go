// Package kv abstracts the shared key-value store the gateway instances
// coordinate through: the global priority queue, the dead-letter queue,
// daily quota counters, and the tenant cache all live behind this interface.
package kv

import (
	"context"
	"time"
)

// Member is an ordered-set element with its score.
type Member struct {
	Value string
	Score float64
}

// Store is the adapter boundary for the external KV. All mutating ordered-set
// and counter operations are atomic on the server side.
type Store interface {
	// Plain values.
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// Counters.
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Lists (FIFO via LPUSH/RPOP).
	ListPush(ctx context.Context, key, value string) error
	ListPopTail(ctx context.Context, key string) (string, bool, error)
	ListLen(ctx context.Context, key string) (int64, error)
	ListRange(ctx context.Context, key string) ([]string, error)
	ListRemove(ctx context.Context, key, value string) error

	// Ordered sets. The field-filtered operations treat members as JSON
	// objects and match on one numeric field of the decoded body.
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZPopMin(ctx context.Context, key string) (Member, bool, error)
	// ZPopMinField atomically removes and returns the lowest-scored member
	// whose decoded body has field equal to value.
	ZPopMinField(ctx context.Context, key, field string, value int64) (Member, bool, error)
	ZRangeAll(ctx context.Context, key string) ([]Member, error)
	ZRem(ctx context.Context, key, member string) error
	// ZPeekMinField returns without removing the lowest-scored member whose
	// decoded body has field equal to value.
	ZPeekMinField(ctx context.Context, key, field string, value int64) (Member, bool, error)

	Ping(ctx context.Context) error
	Close() error
}
