package ratelimit

import (
	"context"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)}
}

func testLimiter(cfg Config, clock *fakeClock) *Limiter {
	return New(nil, cfg, WithClock(clock.Now))
}

func TestAdmitSequenceWithinCeiling(t *testing.T) {
	clock := newFakeClock()
	l := testLimiter(Config{DefaultCeiling: 5, DefaultWindow: 10 * time.Second}, clock)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		dec := l.Admit(ctx, "client-a", "/api/data")
		if !dec.Allowed {
			t.Fatalf("call %d: expected allow", i+1)
		}
		if want := 5 - (i + 1); dec.Remaining != want {
			t.Fatalf("call %d: remaining = %d, want %d", i+1, dec.Remaining, want)
		}
		clock.Advance(time.Second)
	}
}

func TestDenyBeyondCeiling(t *testing.T) {
	clock := newFakeClock()
	window := 10 * time.Second
	l := testLimiter(Config{DefaultCeiling: 3, DefaultWindow: window}, clock)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if dec := l.Admit(ctx, "client-a", "/api/data"); !dec.Allowed {
			t.Fatalf("call %d: expected allow", i+1)
		}
	}

	dec := l.Admit(ctx, "client-a", "/api/data")
	if dec.Allowed {
		t.Fatalf("expected deny on call beyond ceiling")
	}
	if dec.Ceiling != 3 || dec.Window != window {
		t.Fatalf("deny must carry rule values verbatim, got ceiling=%d window=%v", dec.Ceiling, dec.Window)
	}
	if dec.RetryAfter <= 0 || dec.RetryAfter > window {
		t.Fatalf("retry_after = %v, want in (0, %v]", dec.RetryAfter, window)
	}
}

func TestAllowedAgainAfterRetryAfter(t *testing.T) {
	clock := newFakeClock()
	l := testLimiter(Config{DefaultCeiling: 2, DefaultWindow: 10 * time.Second}, clock)

	ctx := context.Background()
	l.Admit(ctx, "client-a", "/api/data")
	clock.Advance(2 * time.Second)
	l.Admit(ctx, "client-a", "/api/data")

	dec := l.Admit(ctx, "client-a", "/api/data")
	if dec.Allowed {
		t.Fatalf("expected deny with window full")
	}

	clock.Advance(dec.RetryAfter)
	dec = l.Admit(ctx, "client-a", "/api/data")
	if !dec.Allowed {
		t.Fatalf("expected allow after waiting retry_after")
	}
}

func TestIdentitiesDoNotShareState(t *testing.T) {
	clock := newFakeClock()
	l := testLimiter(Config{DefaultCeiling: 2, DefaultWindow: 10 * time.Second}, clock)

	ctx := context.Background()
	l.Admit(ctx, "client-a", "/api/data")
	l.Admit(ctx, "client-a", "/api/data")
	if dec := l.Admit(ctx, "client-a", "/api/data"); dec.Allowed {
		t.Fatalf("client-a should be exhausted")
	}

	dec := l.Admit(ctx, "client-b", "/api/data")
	if !dec.Allowed {
		t.Fatalf("client-b must be unaffected by client-a's ceiling")
	}
	if dec.Remaining != 1 {
		t.Fatalf("client-b remaining = %d, want 1", dec.Remaining)
	}
}

func TestScopesTrackIndependentCounters(t *testing.T) {
	clock := newFakeClock()
	l := testLimiter(Config{
		Rules: []Rule{
			{Pattern: "/api/auth/*", Ceiling: 2, Window: 10 * time.Second},
			{Pattern: "/api/data", Ceiling: 5, Window: 10 * time.Second},
		},
		DefaultCeiling: 100,
		DefaultWindow:  time.Minute,
	}, clock)

	ctx := context.Background()

	// Exhaust the wildcard rule on one concrete path.
	l.Admit(ctx, "client-a", "/api/auth/login")
	l.Admit(ctx, "client-a", "/api/auth/login")
	if dec := l.Admit(ctx, "client-a", "/api/auth/login"); dec.Allowed {
		t.Fatalf("/api/auth/login should be exhausted")
	}

	// A sibling path under the same wildcard rule counts independently.
	if dec := l.Admit(ctx, "client-a", "/api/auth/register"); !dec.Allowed {
		t.Fatalf("/api/auth/register must not share /api/auth/login's counter")
	}

	// The exact rule is untouched.
	dec := l.Admit(ctx, "client-a", "/api/data")
	if !dec.Allowed || dec.Remaining != 4 {
		t.Fatalf("/api/data: allowed=%v remaining=%d, want allowed remaining=4", dec.Allowed, dec.Remaining)
	}
}

func TestExcludedPathsConsumeNoState(t *testing.T) {
	clock := newFakeClock()
	l := testLimiter(Config{
		DefaultCeiling: 1,
		DefaultWindow:  10 * time.Second,
		ExcludedPaths:  []string{"/healthz"},
	}, clock)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		dec := l.Admit(ctx, "client-a", "/healthz")
		if !dec.Allowed || !dec.Exempt {
			t.Fatalf("excluded path must always be admitted")
		}
	}
	if l.track.size() != 0 {
		t.Fatalf("excluded paths must not create tracker entries, got %d", l.track.size())
	}
}

func TestIdleEntriesCleanedUp(t *testing.T) {
	clock := newFakeClock()
	window := 10 * time.Second
	l := testLimiter(Config{DefaultCeiling: 5, DefaultWindow: window}, clock)

	ctx := context.Background()
	l.Admit(ctx, "client-a", "/api/data")
	if l.track.size() != 1 {
		t.Fatalf("expected one tracked entry")
	}

	// Idle beyond 2x the default window; the next call's maintenance pass
	// drops the stale entry (the caller's own entry is freshly accessed).
	clock.Advance(2*window + time.Second)
	l.Admit(ctx, "client-b", "/api/data")

	if l.track.size() != 1 {
		t.Fatalf("stale entry should be purged, got %d entries", l.track.size())
	}
}

func TestEvictionBoundsEntryCount(t *testing.T) {
	clock := newFakeClock()
	l := testLimiter(Config{
		DefaultCeiling: 5,
		DefaultWindow:  time.Minute,
		MaxEntries:     10,
		CleanupEvery:   time.Second,
	}, clock)

	ctx := context.Background()
	for i := 0; i < 11; i++ {
		l.Admit(ctx, "client-a", "/api/data/"+string(rune('a'+i)))
		clock.Advance(2 * time.Second)
	}

	// 11 entries exceeded the ceiling of 10, so the oldest 10% (one entry)
	// was evicted on the last maintenance pass.
	if got := l.track.size(); got > 10 {
		t.Fatalf("tracker size = %d, want <= 10", got)
	}
}

func TestDeniedRequestNotRecorded(t *testing.T) {
	clock := newFakeClock()
	l := testLimiter(Config{DefaultCeiling: 1, DefaultWindow: 10 * time.Second}, clock)

	ctx := context.Background()
	first := l.Admit(ctx, "client-a", "/api/data")
	if !first.Allowed {
		t.Fatalf("first call must be allowed")
	}

	// Hammering while denied must not extend the lockout.
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		if dec := l.Admit(ctx, "client-a", "/api/data"); dec.Allowed {
			t.Fatalf("expected deny at %v", clock.Now())
		}
	}

	clock.Advance(5 * time.Second) // 10s after the first (only recorded) call
	if dec := l.Admit(ctx, "client-a", "/api/data"); !dec.Allowed {
		t.Fatalf("window should have expired relative to the recorded request")
	}
}
