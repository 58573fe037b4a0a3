package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"radiotiker/logger"

	"github.com/go-redis/redis/v8"
)

// ProbeCache remembers whether an origin honours byte ranges.
type ProbeCache interface {
	// Get returns the cached answer and whether there was one.
	Get(ctx context.Context, origin string) (capable bool, ok bool)
	Set(ctx context.Context, origin string, capable bool)
}

// NopProbeCache never remembers anything.
type NopProbeCache struct{}

func (NopProbeCache) Get(context.Context, string) (bool, bool) { return false, false }
func (NopProbeCache) Set(context.Context, string, bool)        {}

type memoryEntry struct {
	capable bool
	expires time.Time
}

// MemoryProbeCache is an in-process TTL map.
type MemoryProbeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryProbeCache returns a cache whose entries live for ttl.
func NewMemoryProbeCache(ttl time.Duration) *MemoryProbeCache {
	return &MemoryProbeCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryProbeCache) Get(_ context.Context, origin string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[origin]
	if !ok {
		return false, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, origin)
		return false, false
	}
	return e.capable, true
}

func (c *MemoryProbeCache) Set(_ context.Context, origin string, capable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[origin] = memoryEntry{capable: capable, expires: c.now().Add(c.ttl)}
}

const probeKeyPrefix = "radiotiker:probe:"

// RedisProbeCache shares probe answers between relay processes.
type RedisProbeCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisProbeCache stores entries under radiotiker:probe:<origin>.
func NewRedisProbeCache(client *redis.Client, ttl time.Duration) *RedisProbeCache {
	return &RedisProbeCache{client: client, ttl: ttl}
}

func (c *RedisProbeCache) Get(ctx context.Context, origin string) (bool, bool) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	val, err := c.client.Get(ctx, probeKeyPrefix+origin).Result()
	if errors.Is(err, redis.Nil) {
		return false, false
	}
	if err != nil {
		logger.Warn("probe cache read failed", logger.String("origin", origin), logger.ErrorField(err))
		return false, false
	}
	return val == "1", true
}

func (c *RedisProbeCache) Set(ctx context.Context, origin string, capable bool) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	val := "0"
	if capable {
		val = "1"
	}
	if err := c.client.Set(ctx, probeKeyPrefix+origin, val, c.ttl).Err(); err != nil {
		logger.Warn("probe cache write failed", logger.String("origin", origin), logger.ErrorField(err))
	}
}
