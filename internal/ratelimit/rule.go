// Package ratelimit implements a sliding-window request admission gate.
//
// Every inbound request is attributed to a client identity and counted inside
// a rolling time window. Once the ceiling for the matched path rule is
// reached, requests are rejected with an accurate retry-after hint. Tracking
// state is bounded via idle cleanup and LRU-style eviction.
package ratelimit

import (
	"strings"
	"time"
)

// Rule binds a path pattern to a request ceiling within a sliding window.
// A pattern is either an exact path or contains "*" segments; a "*" matches
// one path segment, and a trailing "*" matches any remaining suffix.
type Rule struct {
	Pattern string
	Ceiling int
	Window  time.Duration
}

// Config is the admission policy. It is immutable after startup.
type Config struct {
	// Rules are consulted in declaration order: the first exact match wins,
	// otherwise the first structurally matching wildcard pattern, otherwise
	// the process-wide default below.
	Rules []Rule

	DefaultCeiling int
	DefaultWindow  time.Duration

	// ExcludedPaths are always admitted and consume no window state.
	ExcludedPaths []string

	// MaxEntries bounds the number of tracked (identity, path) entries.
	// When exceeded, the least-recently-accessed 10% are evicted.
	MaxEntries int

	// CleanupEvery rate-limits the opportunistic maintenance passes.
	// Zero means once per DefaultWindow.
	CleanupEvery time.Duration
}

const (
	defaultCeiling    = 60
	defaultWindow     = time.Minute
	defaultMaxEntries = 10_000
)

func (c Config) withDefaults() Config {
	if c.DefaultCeiling <= 0 {
		c.DefaultCeiling = defaultCeiling
	}
	if c.DefaultWindow <= 0 {
		c.DefaultWindow = defaultWindow
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = defaultMaxEntries
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = c.DefaultWindow
	}
	return c
}

// Resolve returns the ceiling and window that apply to path.
func (c Config) Resolve(path string) (int, time.Duration) {
	for _, r := range c.Rules {
		if r.Pattern == path {
			return r.Ceiling, r.Window
		}
	}
	for _, r := range c.Rules {
		if strings.Contains(r.Pattern, "*") && matchPattern(r.Pattern, path) {
			return r.Ceiling, r.Window
		}
	}
	return c.DefaultCeiling, c.DefaultWindow
}

// Excluded reports whether path bypasses admission entirely.
func (c Config) Excluded(path string) bool {
	for _, p := range c.ExcludedPaths {
		if p == path {
			return true
		}
	}
	return false
}

// matchPattern matches a path against a wildcard pattern segment by segment.
func matchPattern(pattern, path string) bool {
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	ss := strings.Split(strings.Trim(path, "/"), "/")

	for i, seg := range ps {
		// A trailing "*" swallows the rest of the path.
		if seg == "*" && i == len(ps)-1 {
			return len(ss) >= i+1
		}
		if i >= len(ss) {
			return false
		}
		if seg != "*" && seg != ss[i] {
			return false
		}
	}
	return len(ss) == len(ps)
}
