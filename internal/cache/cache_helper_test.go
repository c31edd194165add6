package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*CacheHelper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCacheHelper(client, "test:"), mr
}

func TestCacheHelper_SetAndGet(t *testing.T) {
	helper, _ := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		ID    uint   `json:"id"`
		Title string `json:"title"`
	}

	stored := payload{ID: 1, Title: "Number Theory Quiz"}
	if err := helper.Set(ctx, "id:1", stored, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var loaded payload
	if err := helper.Get(ctx, "id:1", &loaded); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded != stored {
		t.Errorf("Expected %+v, got %+v", stored, loaded)
	}
}

func TestCacheHelper_GetMissing(t *testing.T) {
	helper, _ := newTestCache(t)
	ctx := context.Background()

	var out struct{}
	err := helper.Get(ctx, "missing", &out)
	if !errors.Is(err, ErrCacheNotFound) {
		t.Fatalf("Expected ErrCacheNotFound, got %v", err)
	}
}

func TestCacheHelper_StringRoundTrip(t *testing.T) {
	helper, _ := newTestCache(t)
	ctx := context.Background()

	if err := helper.SetString(ctx, "exists:1:student-1", "true", time.Minute); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}

	value, err := helper.GetString(ctx, "exists:1:student-1")
	if err != nil {
		t.Fatalf("GetString failed: %v", err)
	}
	if value != "true" {
		t.Errorf("Expected \"true\", got %q", value)
	}
}

func TestCacheHelper_Delete(t *testing.T) {
	helper, _ := newTestCache(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := helper.SetString(ctx, key, "v", time.Minute); err != nil {
			t.Fatalf("SetString failed: %v", err)
		}
	}

	if err := helper.Delete(ctx, "a", "b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := helper.GetString(ctx, "a"); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("Expected key a deleted, got %v", err)
	}
	if _, err := helper.GetString(ctx, "c"); err != nil {
		t.Errorf("Key c must survive, got %v", err)
	}
}

func TestCacheHelper_InvalidatePattern(t *testing.T) {
	helper, _ := newTestCache(t)
	ctx := context.Background()

	if err := helper.SetString(ctx, "attempt:1:answers", "v", time.Minute); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}
	if err := helper.SetString(ctx, "attempt:2:answers", "v", time.Minute); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}

	if err := helper.InvalidatePattern(ctx, "attempt:1:*"); err != nil {
		t.Fatalf("InvalidatePattern failed: %v", err)
	}

	if _, err := helper.GetString(ctx, "attempt:1:answers"); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("Expected attempt 1 keys invalidated, got %v", err)
	}
	if _, err := helper.GetString(ctx, "attempt:2:answers"); err != nil {
		t.Errorf("Attempt 2 keys must survive, got %v", err)
	}
}

func TestCacheHelper_CacheOrExecute(t *testing.T) {
	helper, _ := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		ID uint `json:"id"`
	}

	calls := 0
	fetch := func() (interface{}, error) {
		calls++
		return &payload{ID: 7}, nil
	}

	var first payload
	if err := helper.CacheOrExecute(ctx, "id:7", &first, time.Minute, fetch); err != nil {
		t.Fatalf("CacheOrExecute failed: %v", err)
	}
	if first.ID != 7 || calls != 1 {
		t.Fatalf("Expected one fetch returning 7, got %+v after %d calls", first, calls)
	}

	// The write-behind goroutine needs a moment to land
	deadline := time.Now().Add(time.Second)
	for {
		if ok, _ := helper.Exists(ctx, "id:7"); ok || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	var second payload
	if err := helper.CacheOrExecute(ctx, "id:7", &second, time.Minute, fetch); err != nil {
		t.Fatalf("Second CacheOrExecute failed: %v", err)
	}
	if second.ID != 7 {
		t.Errorf("Expected cached value 7, got %+v", second)
	}
	if calls != 1 {
		t.Errorf("Expected cache hit without refetch, got %d calls", calls)
	}
}

func TestCacheHelper_NilClientDegradesGracefully(t *testing.T) {
	helper := NewCacheHelper(nil, "")
	ctx := context.Background()

	if err := helper.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Errorf("Set on nil client must be a no-op, got %v", err)
	}
	if err := helper.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete on nil client must be a no-op, got %v", err)
	}
	var out struct{}
	if err := helper.Get(ctx, "k", &out); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("Expected ErrCacheNotAvailable, got %v", err)
	}
}

func TestCacheManager_Invalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	manager := NewCacheManager(client)
	ctx := context.Background()

	if err := manager.Test.SetString(ctx, "id:1", "v", time.Minute); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}
	if err := manager.Fast.SetString(ctx, "attempt:9:answers", "v", time.Minute); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}

	if err := manager.InvalidateTest(ctx, 1); err != nil {
		t.Fatalf("InvalidateTest failed: %v", err)
	}
	if _, err := manager.Test.GetString(ctx, "id:1"); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("Expected test cache invalidated, got %v", err)
	}

	if err := manager.InvalidateAttempt(ctx, 9); err != nil {
		t.Fatalf("InvalidateAttempt failed: %v", err)
	}
	if _, err := manager.Fast.GetString(ctx, "attempt:9:answers"); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("Expected attempt cache invalidated, got %v", err)
	}

	if err := manager.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
