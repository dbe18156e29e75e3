package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/meter"
)

// Set ESCROW_TEST_REDIS_ADDR to run against a live server.
func openTestCounter(t *testing.T) *Counter {
	t.Helper()
	addr := os.Getenv("ESCROW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ESCROW_TEST_REDIS_ADDR not set")
	}
	c, err := Open(context.Background(), []string{addr}, os.Getenv("ESCROW_TEST_REDIS_PASSWORD"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCounter(t *testing.T) {
	c := openTestCounter(t)
	ctx := context.Background()
	key := "escrow_test:" + id.NewUserID().String()
	t.Cleanup(func() { _ = c.Client().Del(context.Background(), key).Err() })

	if n, err := c.Get(ctx, key); err != nil || n != 0 {
		t.Fatalf("Get missing: got %d, %v", n, err)
	}

	expireAt := time.Now().Add(time.Minute)
	for want := int64(1); want <= 3; want++ {
		n, err := c.Incr(ctx, key, expireAt)
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if n != want {
			t.Fatalf("Incr: got %d, want %d", n, want)
		}
	}
	if err := c.Decr(ctx, key); err != nil {
		t.Fatalf("Decr: %v", err)
	}
	if n, _ := c.Get(ctx, key); n != 2 {
		t.Fatalf("Get after Decr: got %d, want 2", n)
	}

	ttl, err := c.Client().TTL(ctx, key).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL: got %v", ttl)
	}
}

func TestDecrMissingKey(t *testing.T) {
	c := openTestCounter(t)
	ctx := context.Background()
	key := "escrow_test:" + id.NewUserID().String()
	t.Cleanup(func() { _ = c.Client().Del(context.Background(), key).Err() })

	if err := c.Decr(ctx, key); err != nil {
		t.Fatalf("Decr: %v", err)
	}
	n, err := c.Client().Exists(ctx, key).Result()
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if n != 0 {
		t.Fatalf("Decr recreated the expired key")
	}

	// The next day's first question starts from a clean counter.
	got, err := c.Incr(ctx, key, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if got != 1 {
		t.Errorf("Incr after Decr on missing key: got %d, want 1", got)
	}
}

func TestMeterOverRedis(t *testing.T) {
	c := openTestCounter(t)
	ctx := context.Background()
	who := meter.ForSession("escrow_test_" + id.NewUserID().String())
	t.Cleanup(func() { _ = c.Client().Del(context.Background(), who.Key()).Err() })

	m := meter.New(c, meter.WithLimit(2))
	for range 2 {
		if _, err := m.Consume(ctx, who); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}
	if _, err := m.Consume(ctx, who); err == nil {
		t.Fatal("expected quota error")
	}
	u, err := m.Peek(ctx, who)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if u.Used != 2 || u.Remaining != 0 {
		t.Errorf("Peek: got %+v", u)
	}
}
