package deviceflow

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedisStore connects to DEVICELOGIN_TEST_REDIS_URL and flushes the
// selected database. Tests are skipped when the variable is unset.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	url := os.Getenv("DEVICELOGIN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DEVICELOGIN_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parsing redis url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flushing redis: %v", err)
	}
	return NewRedisStore(client)
}

// Redis expires keys on the server clock, so these tests run on wall time
func TestRedisStore(t *testing.T) {
	factory := func(t *testing.T, clock *testClock) Store { return newTestRedisStore(t) }
	realClock := func() *testClock { return &testClock{now: time.Now()} }

	t.Run("round trip", func(t *testing.T) {
		clock := realClock()
		store := factory(t, clock)
		ctx := context.Background()
		seedCode(t, store, clock, "device-1", "BCDF-GHJK")

		got, err := store.GetDeviceCodeByUserCode(ctx, "bcdfghjk")
		if err != nil || got == nil {
			t.Fatalf("GetDeviceCodeByUserCode() = %v, %v", got, err)
		}
		if err := store.DeleteDeviceCode(ctx, "device-1"); err != nil {
			t.Fatalf("DeleteDeviceCode() error = %v", err)
		}
		if got, _ := store.GetDeviceCode(ctx, "device-1"); got != nil {
			t.Error("device code survived delete")
		}
	})

	t.Run("resolve", func(t *testing.T) {
		testStoreResolve(t, factory, realClock())
	})

	t.Run("concurrent resolve", func(t *testing.T) {
		testStoreConcurrentResolve(t, factory, realClock())
	})

	t.Run("consume", func(t *testing.T) {
		testStoreConsume(t, factory, realClock())
	})

	t.Run("concurrent consume", func(t *testing.T) {
		testStoreConcurrentConsume(t, factory, realClock())
	})
}
