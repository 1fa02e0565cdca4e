// Package cache enforces the tenant key discipline over the shared KV:
// every key is namespaced under its tenant, and keys can only be built
// through this package so no code path can cache across tenants.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/gridware/genai-gateway/internal/kv"
	"github.com/gridware/genai-gateway/internal/metrics"
)

// maxRawKeyLen is the longest raw key stored verbatim; longer keys are
// digested and re-prefixed with the tenant so the prefix stays a hard
// isolation boundary.
const maxRawKeyLen = 200

// Cache is a tenant-scoped cache over the shared KV.
type Cache struct {
	store  kv.Store
	mx     *metrics.Collector
	prefix string
	ttl    time.Duration
}

// New creates a cache. prefix is the KV namespace ("genai:"); ttl applies
// to every Set.
func New(store kv.Store, mx *metrics.Collector, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "genai:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{store: store, mx: mx, prefix: prefix, ttl: ttl}
}

// Key builds the storage key for a tenant-scoped cache entry.
func (c *Cache) Key(tenantID, key string) string {
	if len(key) > maxRawKeyLen {
		sum := sha256.Sum256([]byte(key))
		key = hex.EncodeToString(sum[:])
	}
	return fmt.Sprintf("%scache:%s:%s", c.prefix, tenantID, key)
}

// Get returns the cached value for the tenant's key.
func (c *Cache) Get(ctx context.Context, tenantID, key string) (string, bool, error) {
	val, ok, err := c.store.Get(ctx, c.Key(tenantID, key))
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	if c.mx != nil {
		c.mx.RecordCacheHit(ok)
	}
	return val, ok, nil
}

// Set stores a value under the tenant's key with the cache TTL.
func (c *Cache) Set(ctx context.Context, tenantID, key, value string) error {
	if err := c.store.SetWithTTL(ctx, c.Key(tenantID, key), value, c.ttl); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (c *Cache) Delete(ctx context.Context, tenantID, key string) error {
	if _, err := c.store.Delete(ctx, c.Key(tenantID, key)); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// ClearTenant enumerates and deletes every entry under the tenant's prefix.
// Returns the number of keys removed.
func (c *Cache) ClearTenant(ctx context.Context, tenantID string) (int64, error) {
	keys, err := c.store.ScanPrefix(ctx, fmt.Sprintf("%scache:%s:", c.prefix, tenantID))
	if err != nil {
		return 0, fmt.Errorf("cache clear scan: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	deleted, err := c.store.Delete(ctx, keys...)
	if err != nil {
		return deleted, fmt.Errorf("cache clear delete: %w", err)
	}
	log.Printf("[INFO] Cache.ClearTenant: removed %d entries for tenant %s", deleted, tenantID)
	return deleted, nil
}
