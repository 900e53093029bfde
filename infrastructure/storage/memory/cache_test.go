package memory_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/apexsports/apexfeed/domain/cache"
	"github.com/apexsports/apexfeed/infrastructure/storage/memory"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
}

func TestCache_SetGet(t *testing.T) {
	t.Parallel()

	c := memory.NewCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("value"), cache.SetOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, found, err := c.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v, %v", got, found, err)
	}
	if !bytes.Equal(got, []byte("value")) {
		t.Errorf("Get() = %q, want %q", got, "value")
	}

	// The returned slice is a copy; mutating it must not corrupt the entry.
	got[0] = 'X'
	again, _, _ := c.Get(ctx, "k")
	if !bytes.Equal(again, []byte("value")) {
		t.Errorf("entry mutated through returned slice: %q", again)
	}
}

func TestCache_EmptyKeyRejected(t *testing.T) {
	t.Parallel()

	c := memory.NewCache()
	if err := c.Set(context.Background(), "", []byte("v"), cache.SetOptions{}); err != cache.ErrInvalidKey {
		t.Errorf("Set(empty key) error = %v, want ErrInvalidKey", err)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	clock := newClock()
	c := memory.NewCache(memory.WithClock(clock.now))
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), cache.SetOptions{TTL: 100 * time.Millisecond}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	clock.advance(50 * time.Millisecond)
	if _, found, _ := c.Get(ctx, "k"); !found {
		t.Fatal("entry should still be live at half its TTL")
	}

	clock.advance(100 * time.Millisecond)
	if _, found, _ := c.Get(ctx, "k"); found {
		t.Error("entry should have expired")
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0 after lazy expiry", c.Size())
	}
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	t.Parallel()

	clock := newClock()
	c := memory.NewCache(memory.WithClock(clock.now))
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), cache.SetOptions{})
	clock.advance(365 * 24 * time.Hour)

	if _, found, _ := c.Get(ctx, "k"); !found {
		t.Error("zero-TTL entry should not expire")
	}
}

func TestCache_DeleteByScope(t *testing.T) {
	t.Parallel()

	c := memory.NewCache()
	ctx := context.Background()

	entries := map[string]cache.Scope{
		"basketball:odds":  {Sport: "basketball", DataType: "odds"},
		"basketball:teams": {Sport: "basketball", DataType: "teams"},
		"hockey:odds":      {Sport: "hockey", DataType: "odds"},
	}
	for key, scope := range entries {
		if err := c.Set(ctx, key, []byte("v"), cache.SetOptions{Scope: scope}); err != nil {
			t.Fatalf("Set(%s) error = %v", key, err)
		}
	}

	removed, err := c.DeleteByScope(ctx, cache.Scope{Sport: "basketball"})
	if err != nil {
		t.Fatalf("DeleteByScope() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	if _, found, _ := c.Get(ctx, "hockey:odds"); !found {
		t.Error("hockey entry should survive a basketball invalidation")
	}
	if _, found, _ := c.Get(ctx, "basketball:odds"); found {
		t.Error("basketball odds should be gone")
	}
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	clock := newClock()
	c := memory.NewCache(memory.WithMaxSize(3), memory.WithClock(clock.now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), cache.SetOptions{})
		clock.advance(time.Second)
	}

	// k0 is the oldest write and should be the eviction victim.
	_ = c.Set(ctx, "k3", []byte("v"), cache.SetOptions{})

	if _, found, _ := c.Get(ctx, "k0"); found {
		t.Error("oldest entry should have been evicted")
	}
	for _, key := range []string{"k1", "k2", "k3"} {
		if _, found, _ := c.Get(ctx, key); !found {
			t.Errorf("entry %s should have survived", key)
		}
	}

	stats := c.Stats()
	if stats.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", stats.Evictions)
	}
	if stats.Size != 3 {
		t.Errorf("Size = %d, want 3", stats.Size)
	}
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	t.Parallel()

	c := memory.NewCache(memory.WithMaxSize(2))
	ctx := context.Background()

	_ = c.Set(ctx, "a", []byte("1"), cache.SetOptions{})
	_ = c.Set(ctx, "b", []byte("2"), cache.SetOptions{})
	_ = c.Set(ctx, "a", []byte("3"), cache.SetOptions{})

	if got := c.Stats().Evictions; got != 0 {
		t.Errorf("Evictions = %d, want 0 after overwrite", got)
	}
	got, _, _ := c.Get(ctx, "a")
	if !bytes.Equal(got, []byte("3")) {
		t.Errorf("Get(a) = %q, want overwritten value", got)
	}
}

func TestCache_Cleanup(t *testing.T) {
	t.Parallel()

	clock := newClock()
	c := memory.NewCache(memory.WithClock(clock.now))
	ctx := context.Background()

	_ = c.Set(ctx, "short", []byte("v"), cache.SetOptions{TTL: time.Minute})
	_ = c.Set(ctx, "long", []byte("v"), cache.SetOptions{TTL: time.Hour})

	clock.advance(2 * time.Minute)

	if removed := c.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() = %d, want 1", removed)
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}

func TestCache_StatsHitRate(t *testing.T) {
	t.Parallel()

	c := memory.NewCache()
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), cache.SetOptions{})
	_, _, _ = c.Get(ctx, "k")
	_, _, _ = c.Get(ctx, "k")
	_, _, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("Hits/Misses = %d/%d, want 2/1", stats.Hits, stats.Misses)
	}
	if rate := stats.HitRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("HitRate() = %v, want ~0.667", rate)
	}
}
