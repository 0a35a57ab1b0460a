package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCacheFromClient(client, "kw"), mr
}

func TestRedisCache(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get missing err = %v, want ErrCacheMiss", err)
	}

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("kw:k") {
		t.Error("key not stored under prefix")
	}
	if ttl := mr.TTL("kw:k"); ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}

	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get after delete err = %v", err)
	}

	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}

	mr.Close()
	if err := c.Ping(ctx); err == nil {
		t.Error("Ping succeeded against a stopped server")
	}
}
