package oracle

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/coocood/freecache"
)

// minCacheBytes is the smallest cache freecache will allocate usefully.
const minCacheBytes = 512 * 1024

// ProbeCache memoizes oracle answers for a short TTL so that admission
// probes do not hit the oracle on every check. Failures are not cached.
type ProbeCache struct {
	next Oracle
	raw  *freecache.Cache
	ttl  int
}

// NewProbeCache wraps next. ttl is rounded up to whole seconds.
func NewProbeCache(next Oracle, sizeBytes int, ttl time.Duration) *ProbeCache {
	if sizeBytes < minCacheBytes {
		sizeBytes = minCacheBytes
	}
	secs := int((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &ProbeCache{
		next: next,
		raw:  freecache.NewCache(sizeBytes),
		ttl:  secs,
	}
}

func (c *ProbeCache) CurrentUsage(ctx context.Context, owner, group string) (int64, error) {
	return c.lookup("u\x00"+owner+"\x00"+group, func() (int64, error) {
		return c.next.CurrentUsage(ctx, owner, group)
	})
}

func (c *ProbeCache) CurrentBudgetConsumption(ctx context.Context, owner string) (int64, error) {
	return c.lookup("b\x00"+owner, func() (int64, error) {
		return c.next.CurrentBudgetConsumption(ctx, owner)
	})
}

func (c *ProbeCache) lookup(key string, load func() (int64, error)) (int64, error) {
	if raw, err := c.raw.Get([]byte(key)); err == nil && len(raw) == 8 {
		return int64(binary.BigEndian.Uint64(raw)), nil
	}

	v, err := load()
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_ = c.raw.Set([]byte(key), buf[:], c.ttl)
	return v, nil
}

// Purge drops every cached answer.
func (c *ProbeCache) Purge() {
	c.raw.Clear()
}

// Stats returns cache hits and misses since creation.
func (c *ProbeCache) Stats() (hits, misses int64) {
	return c.raw.HitCount(), c.raw.MissCount()
}

var _ Oracle = (*ProbeCache)(nil)
