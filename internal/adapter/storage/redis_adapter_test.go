package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestReserve_OnlyOnce(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := "test-" + uuid.NewString()
	defer client.Del(ctx, idempotencyKeyPrefix+key)

	ok, err := adapter.Reserve(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first reserve to succeed")
	}

	ok, err = adapter.Reserve(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second reserve to fail")
	}
}

func TestLookup_PendingThenCompleted(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := "test-" + uuid.NewString()
	defer client.Del(ctx, idempotencyKeyPrefix+key)

	if _, found, _ := adapter.Lookup(ctx, key); found {
		t.Fatal("expected unknown key to be absent")
	}

	adapter.Reserve(ctx, key)
	orderID, found, err := adapter.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || orderID != 0 {
		t.Errorf("expected pending key, got found=%v orderID=%d", found, orderID)
	}

	if err := adapter.Complete(ctx, key, 42); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	orderID, found, err = adapter.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || orderID != 42 {
		t.Errorf("expected order 42, got found=%v orderID=%d", found, orderID)
	}

	ttl, _ := client.TTL(ctx, idempotencyKeyPrefix+key).Result()
	if ttl <= 0 {
		t.Errorf("expected ttl to survive completion, got %v", ttl)
	}
}

func TestRelease_KeepsCompletedKey(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	pending := "test-" + uuid.NewString()
	done := "test-" + uuid.NewString()
	defer client.Del(ctx, idempotencyKeyPrefix+pending, idempotencyKeyPrefix+done)

	adapter.Reserve(ctx, pending)
	if err := adapter.Release(ctx, pending); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if ok, _ := adapter.Reserve(ctx, pending); !ok {
		t.Error("expected released key to be reservable again")
	}

	adapter.Reserve(ctx, done)
	adapter.Complete(ctx, done, 7)
	adapter.Release(ctx, done)
	if orderID, found, _ := adapter.Lookup(ctx, done); !found || orderID != 7 {
		t.Errorf("expected completed key to survive release, got found=%v orderID=%d", found, orderID)
	}
}

func TestReserve_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := "concurrent-" + uuid.NewString()
	defer client.Del(ctx, idempotencyKeyPrefix+key)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.Reserve(ctx, key)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}

func TestComplete_OnlyWhilePending(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := "test-" + uuid.NewString()
	defer client.Del(ctx, idempotencyKeyPrefix+key)

	// Without a reservation there is nothing to complete.
	if err := adapter.Complete(ctx, key, 7); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if _, found, err := adapter.Lookup(ctx, key); err != nil || found {
		t.Fatalf("expected absent key, got found=%v err=%v", found, err)
	}

	if _, err := adapter.Reserve(ctx, key); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := adapter.Complete(ctx, key, 42); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if err := adapter.Complete(ctx, key, 43); err != nil {
		t.Fatalf("second complete failed: %v", err)
	}

	orderID, found, err := adapter.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !found || orderID != 42 {
		t.Errorf("expected order 42 to stay recorded, got %d (found=%v)", orderID, found)
	}
}
