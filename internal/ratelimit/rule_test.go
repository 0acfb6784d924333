package ratelimit

import (
	"testing"
	"time"
)

func TestResolvePrecedence(t *testing.T) {
	cfg := Config{
		Rules: []Rule{
			{Pattern: "/api/auth/*", Ceiling: 2, Window: 10 * time.Second},
			{Pattern: "/api/data", Ceiling: 5, Window: 30 * time.Second},
			{Pattern: "/api/*", Ceiling: 20, Window: time.Minute},
		},
		DefaultCeiling: 100,
		DefaultWindow:  time.Minute,
	}.withDefaults()

	tests := []struct {
		path        string
		wantCeiling int
	}{
		{"/api/data", 5},          // exact beats the later wildcard
		{"/api/auth/login", 2},    // first wildcard in declaration order
		{"/api/auth/register", 2}, // same rule, different concrete path
		{"/api/rooms", 20},        // generic wildcard
		{"/healthz", 100},         // process default
	}

	for _, tt := range tests {
		ceiling, _ := cfg.Resolve(tt.path)
		if ceiling != tt.wantCeiling {
			t.Errorf("Resolve(%q) ceiling = %d, want %d", tt.path, ceiling, tt.wantCeiling)
		}
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/api/auth/*", "/api/auth/login", true},
		{"/api/auth/*", "/api/auth/login/extra", true}, // trailing * matches any suffix
		{"/api/auth/*", "/api/auth", false},
		{"/api/auth/*", "/api/other/login", false},
		{"/api/*/messages", "/api/r1/messages", true},
		{"/api/*/messages", "/api/r1/other", false},
		{"/api/*/messages", "/api/r1/messages/extra", false},
		{"/api/*", "/api/x", true},
		{"/api/*", "/other/x", false},
	}

	for _, tt := range tests {
		if got := matchPattern(tt.pattern, tt.path); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestExcluded(t *testing.T) {
	cfg := Config{ExcludedPaths: []string{"/healthz", "/metrics"}}

	if !cfg.Excluded("/healthz") {
		t.Fatalf("expected /healthz to be excluded")
	}
	if cfg.Excluded("/api/rooms") {
		t.Fatalf("expected /api/rooms not to be excluded")
	}
}
