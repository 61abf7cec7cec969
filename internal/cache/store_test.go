package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestMemoryStoreExpiresEntries(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(MemoryConfig{Now: clock.Now})
	ctx := context.Background()

	if err := store.Set(ctx, "42:generate", []byte("generate"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, err := store.Get(ctx, "42:generate")
	if err != nil {
		t.Fatalf("expected hit, got %v", err)
	}
	if string(value) != "generate" {
		t.Fatalf("unexpected value %q", value)
	}

	clock.now = clock.now.Add(time.Minute)
	if _, err := store.Get(ctx, "42:generate"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after expiry, got %v", err)
	}
}

func TestMemoryStoreEvictsOldestWhenFull(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(MemoryConfig{MaxEntries: 2, Now: clock.Now})
	ctx := context.Background()

	_ = store.Set(ctx, "a", []byte("1"), 0)
	clock.now = clock.now.Add(time.Second)
	_ = store.Set(ctx, "b", []byte("2"), 0)
	clock.now = clock.now.Add(time.Second)
	_ = store.Set(ctx, "c", []byte("3"), 0)

	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected oldest entry to be evicted, got %v", err)
	}
	if _, err := store.Get(ctx, "c"); err != nil {
		t.Fatalf("expected newest entry to be kept, got %v", err)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "bot:")
	ctx := context.Background()

	if _, err := store.Get(ctx, "7:generate"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss on empty store, got %v", err)
	}
	if err := store.Set(ctx, "7:generate", []byte(`{"max_generate":1}`), time.Hour); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if !server.Exists("bot:7:generate") {
		t.Fatalf("expected prefixed key in redis")
	}
	if ttl := server.TTL("bot:7:generate"); ttl != time.Hour {
		t.Fatalf("expected ttl of one hour, got %s", ttl)
	}

	server.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, "7:generate"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected key to expire, got %v", err)
	}

	_ = store.Set(ctx, "7:generate", []byte("generate"), 0)
	if err := store.Delete(ctx, "7:generate"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if server.Exists("bot:7:generate") {
		t.Fatalf("expected key to be deleted")
	}
}
