package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTokenBucket(client, capacity, refill, time.Minute), mr
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newTestBucket(t, 2, 1)

	allowed, err := bucket.Allow(ctx, "submit:user-1")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _ = bucket.Allow(ctx, "submit:user-1")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _ = bucket.Allow(ctx, "submit:user-1")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	allowed, _ = bucket.Allow(ctx, "submit:user-2")
	if !allowed {
		t.Fatalf("expected other user to have its own bucket")
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newTestBucket(t, 1, 2)

	clock := time.Unix(1_700_000_000, 0)
	bucket.now = func() time.Time { return clock }

	if ok, _ := bucket.Allow(ctx, "k"); !ok {
		t.Fatal("expected first token allowed")
	}
	if ok, _ := bucket.Allow(ctx, "k"); ok {
		t.Fatal("expected bucket to be empty")
	}

	clock = clock.Add(600 * time.Millisecond)
	if ok, _ := bucket.Allow(ctx, "k"); !ok {
		t.Fatal("expected token after refill")
	}
}

func TestTokenBucket_KeysArePrefixedAndExpire(t *testing.T) {
	ctx := context.Background()
	bucket, mr := newTestBucket(t, 5, 1)

	if _, err := bucket.Allow(ctx, "submit:u"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !mr.Exists(keyPrefix + "submit:u") {
		t.Fatalf("expected key %q in redis, have %v", keyPrefix+"submit:u", mr.Keys())
	}
	if ttl := mr.TTL(keyPrefix + "submit:u"); ttl <= 0 {
		t.Errorf("ttl = %v, want positive", ttl)
	}
}

func TestTokenBucket_RedisDown(t *testing.T) {
	bucket, mr := newTestBucket(t, 1, 1)
	mr.Close()

	if _, err := bucket.Allow(context.Background(), "k"); err == nil {
		t.Error("expected error when redis is unavailable")
	}
}
