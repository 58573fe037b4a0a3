package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryProbeCacheExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewMemoryProbeCache(time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, ok := c.Get(ctx, "http://a"); ok {
		t.Fatal("empty cache returned a hit")
	}
	c.Set(ctx, "http://a", true)
	c.Set(ctx, "http://b", false)

	if capable, ok := c.Get(ctx, "http://a"); !ok || !capable {
		t.Fatalf("Get(a) = %v, %v", capable, ok)
	}
	if capable, ok := c.Get(ctx, "http://b"); !ok || capable {
		t.Fatalf("Get(b) = %v, %v", capable, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get(ctx, "http://a"); ok {
		t.Fatal("entry should have expired")
	}
}

func TestNopProbeCache(t *testing.T) {
	var c NopProbeCache
	c.Set(context.Background(), "x", true)
	if _, ok := c.Get(context.Background(), "x"); ok {
		t.Fatal("nop cache must never hit")
	}
}
