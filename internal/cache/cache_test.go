package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinicalops/trialrisk/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, RunKey("run-1"), []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := cache.Get(ctx, RunKey("run-1"))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("EmptyKey", func(t *testing.T) {
		if _, err := cache.Get(ctx, ""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if err := cache.Set(ctx, "", nil, time.Minute); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, KeyLatestRun, []byte("value2"), time.Minute)
		if err := cache.Delete(ctx, KeyLatestRun); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, KeyLatestRun); val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		clocked := NewLRUCache(10)
		clocked.now = func() time.Time { return now }

		_ = clocked.Set(ctx, "expiring", []byte("temp"), time.Second)
		if val, _ := clocked.Get(ctx, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		now = now.Add(2 * time.Second)
		if val, _ := clocked.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
		if size, _ := clocked.Stats(); size != 0 {
			t.Errorf("expected expired entry removed, size %d", size)
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)
		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)

		// Touch "a" so "b" becomes the eviction candidate.
		_, _ = small.Get(ctx, "a")
		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		for _, k := range []string{"a", "c", "d"} {
			if val, _ := small.Get(ctx, k); val == nil {
				t.Errorf("expected %q to survive", k)
			}
		}
		if size, capacity := small.Stats(); size != 3 || capacity != 3 {
			t.Errorf("expected 3/3, got %d/%d", size, capacity)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = cache.Set(ctx, "k", []byte("old"), time.Minute)
		_ = cache.Set(ctx, "k", []byte("new"), time.Minute)
		if val, _ := cache.Get(ctx, "k"); string(val) != "new" {
			t.Errorf("expected overwrite, got %s", val)
		}
	})

	t.Run("Concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key := StudiesKey(string(rune('a' + i%26)))
				_ = cache.Set(ctx, key, []byte("x"), time.Minute)
				_, _ = cache.Get(ctx, key)
			}()
		}
		wg.Wait()
	})

	t.Run("Close", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
		_ = cache.Close()
		if size, _ := cache.Stats(); size != 0 {
			t.Errorf("expected empty cache after close, got %d", size)
		}
	})
}

func TestJSONHelpers(t *testing.T) {
	cache := NewLRUCache(10)
	ctx := context.Background()

	run := domain.Run{ID: "run-7", Status: domain.RunStatusCompleted, StudyCount: 4}
	if err := SetJSON(ctx, cache, RunKey(run.ID), run, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var got domain.Run
	hit, err := GetJSON(ctx, cache, RunKey(run.ID), &got)
	if err != nil || !hit {
		t.Fatalf("expected hit, got %v %v", hit, err)
	}
	if got.ID != "run-7" || got.StudyCount != 4 {
		t.Errorf("unexpected decoded run: %+v", got)
	}

	if hit, _ := GetJSON(ctx, cache, SitesKey("run-7"), &got); hit {
		t.Error("expected miss")
	}

	_ = cache.Set(ctx, "corrupt", []byte("{"), time.Minute)
	if _, err := GetJSON(ctx, cache, "corrupt", &got); err == nil {
		t.Error("expected decode error")
	}
}

func TestNew(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 5})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, capacity := c.(*LRUCache).Stats(); capacity != 5 {
		t.Errorf("expected capacity 5, got %d", capacity)
	}

	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestKeys(t *testing.T) {
	if RunKey("a") == StudiesKey("a") || StudiesKey("a") == SitesKey("a") {
		t.Error("expected distinct keys per response kind")
	}
	if redisKey(RunKey("a")) != "trialrisk:runs:a" {
		t.Errorf("unexpected redis key %s", redisKey(RunKey("a")))
	}
}
