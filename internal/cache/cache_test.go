package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gridware/genai-gateway/internal/kv"
	"github.com/gridware/genai-gateway/internal/metrics"
)

func setupCache(t *testing.T) (*Cache, *metrics.Collector) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kv.NewRedisStoreFromClient(client)
	t.Cleanup(func() { store.Close() })

	mx := metrics.NewCollector()
	return New(store, mx, "genai:", time.Hour), mx
}

func TestCache_RoundTrip(t *testing.T) {
	c, mx := setupCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "acme", "answer:q1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "acme", "answer:q1", "v1"))
	val, ok, err := c.Get(ctx, "acme", "answer:q1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", val)

	snap := mx.GetSnapshot()
	require.Equal(t, int64(1), snap.CacheHits)
	require.Equal(t, int64(1), snap.CacheMisses)
}

func TestCache_KeysCarryTenantPrefix(t *testing.T) {
	c, _ := setupCache(t)
	require.Equal(t, "genai:cache:acme:foo", c.Key("acme", "foo"))
	require.True(t, strings.HasPrefix(c.Key("acme", strings.Repeat("x", 500)), "genai:cache:acme:"),
		"hashed keys keep the tenant prefix")
}

func TestCache_TenantCollisionIsolation(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	// The same logical key for two tenants must never collide.
	require.NoError(t, c.Set(ctx, "tenant-a", "shared-key", "a-value"))
	require.NoError(t, c.Set(ctx, "tenant-b", "shared-key", "b-value"))

	got, ok, err := c.Get(ctx, "tenant-a", "shared-key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a-value", got)

	got, _, _ = c.Get(ctx, "tenant-b", "shared-key")
	require.Equal(t, "b-value", got)

	// A crafted key attempting to escape into another tenant's namespace
	// stays inside the requester's prefix.
	require.NoError(t, c.Set(ctx, "tenant-a", "x:tenant-b:secret", "still-a"))
	_, ok, _ = c.Get(ctx, "tenant-b", "secret")
	require.False(t, ok, "crafted key must not surface under tenant-b")
}

func TestCache_LongKeysHashed(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	long := strings.Repeat("q", 300)
	require.NoError(t, c.Set(ctx, "acme", long, "v"))

	// Readable through the same long key.
	val, ok, err := c.Get(ctx, "acme", long)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", val)

	// The same long key under another tenant resolves independently.
	_, ok, _ = c.Get(ctx, "globex", long)
	require.False(t, ok)

	require.Less(t, len(c.Key("acme", long)), 100, "stored key is digest-sized")
}

func TestCache_ClearTenant(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, "acme", k, "v"))
	}
	require.NoError(t, c.Set(ctx, "globex", "a", "keep"))

	deleted, err := c.ClearTenant(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	_, ok, _ := c.Get(ctx, "acme", "a")
	require.False(t, ok)
	val, ok, _ := c.Get(ctx, "globex", "a")
	require.True(t, ok, "other tenants' entries survive")
	require.Equal(t, "keep", val)
}
