package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestParseAdmitReply(t *testing.T) {
	tests := []struct {
		name        string
		reply       []interface{}
		wantOK      bool
		wantAllowed bool
		wantOldest  int64
	}{
		{"allow", []interface{}{int64(1), int64(3)}, true, true, 0},
		{"deny", []interface{}{int64(0), int64(5), "1724412000000000000"}, true, false, 1724412000000000000},
		{"short", []interface{}{int64(1)}, false, false, 0},
		{"deny missing oldest", []interface{}{int64(0), int64(5)}, false, false, 0},
		{"bad types", []interface{}{"x", "y"}, false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, _, oldest, ok := parseAdmitReply(tt.reply)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if allowed != tt.wantAllowed {
				t.Fatalf("allowed = %v, want %v", allowed, tt.wantAllowed)
			}
			if oldest != tt.wantOldest {
				t.Fatalf("oldest = %d, want %d", oldest, tt.wantOldest)
			}
		})
	}
}

func TestRedisAdmitterFallsBackOnBackendError(t *testing.T) {
	// A client pointed at a closed port fails fast; the decision must come
	// from the in-process fallback, not a rejection.
	rdb := redis.NewClient(&redis.Options{
		Addr:            "127.0.0.1:1",
		DialTimeout:     50 * time.Millisecond,
		MaxRetries:      -1,
		PoolTimeout:     100 * time.Millisecond,
		MinIdleConns:    0,
		ConnMaxIdleTime: time.Second,
	})
	defer rdb.Close()

	cfg := Config{DefaultCeiling: 2, DefaultWindow: 10 * time.Second}
	fallback := New(nil, cfg)
	a := NewRedisAdmitter(nil, rdb, cfg, fallback)

	ctx := context.Background()
	dec := a.Admit(ctx, "client-a", "/api/data")
	if !dec.Allowed {
		t.Fatalf("backend failure must not deny the request")
	}
	if dec.Remaining != 1 {
		t.Fatalf("fallback remaining = %d, want 1", dec.Remaining)
	}
}

// Integration coverage for the shared backend. Enable with:
//
//	PARLEY_TEST_REDIS_URL=redis://localhost:6379/15 go test ./internal/ratelimit
func TestRedisAdmitterIntegration(t *testing.T) {
	url := os.Getenv("PARLEY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PARLEY_TEST_REDIS_URL not set")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	cfg := Config{DefaultCeiling: 3, DefaultWindow: 5 * time.Second}
	a := NewRedisAdmitter(nil, rdb, cfg, New(nil, cfg))
	a.prefix = "parley:test:" + time.Now().UTC().Format("150405.000") + ":"

	identity := "it-client"
	for i := 0; i < 3; i++ {
		dec := a.Admit(ctx, identity, "/api/data")
		if !dec.Allowed {
			t.Fatalf("call %d: expected allow", i+1)
		}
		if want := 3 - (i + 1); dec.Remaining != want {
			t.Fatalf("call %d: remaining = %d, want %d", i+1, dec.Remaining, want)
		}
	}

	dec := a.Admit(ctx, identity, "/api/data")
	if dec.Allowed {
		t.Fatalf("expected deny beyond ceiling")
	}
	if dec.RetryAfter <= 0 || dec.RetryAfter > cfg.DefaultWindow {
		t.Fatalf("retry_after = %v, want in (0, %v]", dec.RetryAfter, cfg.DefaultWindow)
	}
}
