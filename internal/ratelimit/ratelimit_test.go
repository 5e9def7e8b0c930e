package ratelimit

import (
	"testing"
	"time"

	"github.com/biomeexchange/core/internal/clock"
)

// fakeClock is a manually-advanced clock.Clock for deterministic bucket tests.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }
func (f *fakeClock) NewTicker(d time.Duration) clock.Ticker {
	panic("not used in ratelimit tests")
}
func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	panic("not used in ratelimit tests")
}
func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestLimiterAllowsUpToCapacityThenBlocks(t *testing.T) {
	fc := &fakeClock{now: time.Unix(0, 0)}
	l := New(fc, map[string]BucketSpec{"orders.place": {Capacity: 3, RefillRate: 1}})

	for i := 0; i < 3; i++ {
		d := l.Check("orders.place", "user-1")
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed, got blocked", i)
		}
	}

	d := l.Check("orders.place", "user-1")
	if d.Allowed {
		t.Fatalf("4th request: expected blocked, got allowed")
	}
	if d.ResetAt.Before(fc.now) {
		t.Fatalf("ResetAt should be in the future")
	}
}

func TestLimiterRefillsOverTime(t *testing.T) {
	fc := &fakeClock{now: time.Unix(0, 0)}
	l := New(fc, map[string]BucketSpec{"biome.trade": {Capacity: 1, RefillRate: 1}})

	if !l.Check("biome.trade", "user-1").Allowed {
		t.Fatal("first request should be allowed")
	}
	if l.Check("biome.trade", "user-1").Allowed {
		t.Fatal("second immediate request should be blocked")
	}

	fc.advance(1100 * time.Millisecond)

	if !l.Check("biome.trade", "user-1").Allowed {
		t.Fatal("request after refill window should be allowed")
	}
}

func TestLimiterIsolatesSubjects(t *testing.T) {
	fc := &fakeClock{now: time.Unix(0, 0)}
	l := New(fc, map[string]BucketSpec{"orders.place": {Capacity: 1, RefillRate: 1}})

	l.Check("orders.place", "user-1")
	if !l.Check("orders.place", "user-2").Allowed {
		t.Fatal("distinct subject should have its own bucket")
	}
}

func TestLimiterUnknownKindFailsOpen(t *testing.T) {
	fc := &fakeClock{now: time.Unix(0, 0)}
	l := New(fc, map[string]BucketSpec{})

	d := l.Check("unconfigured.kind", "user-1")
	if !d.Allowed {
		t.Fatal("unconfigured kind should fail open")
	}
}

func TestGCRemovesIdleFullBuckets(t *testing.T) {
	fc := &fakeClock{now: time.Unix(0, 0)}
	l := New(fc, map[string]BucketSpec{"orders.place": {Capacity: 2, RefillRate: 1}})

	l.Check("orders.place", "user-1")
	fc.advance(2 * time.Second) // bucket refills to full and sits idle

	removed := l.GC(time.Second)
	if removed != 1 {
		t.Fatalf("GC removed = %d, want 1", removed)
	}
	if l.Len() != 0 {
		t.Fatalf("Len after GC = %d, want 0", l.Len())
	}
}
