package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Decision is the outcome of an admission check. On denial, Ceiling, Window
// and RetryAfter carry the matched rule's values verbatim so callers can
// build a standard rejection response; on success Remaining is the budget
// left in the current window.
type Decision struct {
	Allowed    bool
	Exempt     bool
	Ceiling    int
	Remaining  int
	Window     time.Duration
	RetryAfter time.Duration
}

// Admitter decides whether a request from one client identity may proceed.
// Implementations: Limiter (in-process) and RedisAdmitter (shared backend
// with Limiter as fallback).
type Admitter interface {
	Admit(ctx context.Context, identity, path string) Decision
}

// Limiter is the in-process sliding-window admission gate.
type Limiter struct {
	log   *slog.Logger
	cfg   Config
	now   func() time.Time
	track *windowTracker
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New constructs an in-process Limiter.
func New(log *slog.Logger, cfg Config, opts ...Option) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	l := &Limiter{
		log:   log,
		cfg:   cfg.withDefaults(),
		now:   func() time.Time { return time.Now().UTC() },
		track: newWindowTracker(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit checks one request against the policy. The in-process path never
// blocks on I/O; maintenance is amortized across calls.
func (l *Limiter) Admit(_ context.Context, identity, path string) Decision {
	if l.cfg.Excluded(path) {
		return Decision{Allowed: true, Exempt: true}
	}

	ceiling, window := l.cfg.Resolve(path)
	now := l.now()

	allowed, remaining, retry := l.track.observe(trackKey(identity, path), now, ceiling, window)

	l.track.maintain(now, l.cfg.CleanupEvery, 2*l.cfg.DefaultWindow, l.cfg.MaxEntries)

	if !allowed {
		l.log.Info("ratelimit.deny",
			"identity", identity,
			"path", path,
			"ceiling", ceiling,
			"retry_after", retry,
		)
		return Decision{
			Allowed:    false,
			Ceiling:    ceiling,
			Window:     window,
			RetryAfter: retry,
		}
	}

	return Decision{
		Allowed:   true,
		Ceiling:   ceiling,
		Remaining: remaining,
		Window:    window,
	}
}

// trackKey scopes window state to the concrete request path, so two paths
// matched by the same wildcard rule count independently.
func trackKey(identity, path string) string {
	return identity + "|" + path
}
