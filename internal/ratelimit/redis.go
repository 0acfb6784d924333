package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript performs the trim-count-insert-expire sequence atomically per
// key, so multiple processes sharing one Redis enforce a single budget.
//
// KEYS[1] = window key
// ARGV[1] = cutoff (unix nanos), ARGV[2] = ceiling,
// ARGV[3] = now (unix nanos), ARGV[4] = member, ARGV[5] = window (millis)
//
// Returns {1, count} on allow, {0, count, oldest_score} on deny.
var admitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[2]) then
	local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	return {0, count, oldest[2]}
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return {1, count + 1}
`)

// RedisAdmitter satisfies the admission contract against a shared Redis
// backend for multi-instance deployments. The allow/deny decision and the
// numeric outputs match the in-process Limiter exactly. On any backend error
// the request is re-checked against the in-process fallback instead of being
// failed.
type RedisAdmitter struct {
	log      *slog.Logger
	rdb      *redis.Client
	cfg      Config
	now      func() time.Time
	fallback *Limiter
	prefix   string

	seq atomic.Uint64
}

// NewRedisAdmitter constructs a Redis-backed admitter. fallback must not be
// nil; it carries the same Config.
func NewRedisAdmitter(log *slog.Logger, rdb *redis.Client, cfg Config, fallback *Limiter) *RedisAdmitter {
	if log == nil {
		log = slog.Default()
	}
	return &RedisAdmitter{
		log:      log,
		rdb:      rdb,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		fallback: fallback,
		prefix:   "parley:rl:",
	}
}

// Admit checks one request against the shared window state.
func (a *RedisAdmitter) Admit(ctx context.Context, identity, path string) Decision {
	if a.cfg.Excluded(path) {
		return Decision{Allowed: true, Exempt: true}
	}

	ceiling, window := a.cfg.Resolve(path)
	now := a.now()
	key := a.prefix + trackKey(identity, path)

	// Member uniqueness within a key: nanos plus a process-local sequence.
	member := strconv.FormatInt(now.UnixNano(), 36) + "-" + strconv.FormatUint(a.seq.Add(1), 36)

	res, err := admitScript.Run(ctx, a.rdb, []string{key},
		now.Add(-window).UnixNano(),
		ceiling,
		now.UnixNano(),
		member,
		window.Milliseconds(),
	).Slice()
	if err != nil {
		a.log.Warn("ratelimit.redis.fallback", "err", err, "path", path)
		return a.fallback.Admit(ctx, identity, path)
	}

	allowed, count, oldest, ok := parseAdmitReply(res)
	if !ok {
		a.log.Warn("ratelimit.redis.bad_reply", "path", path)
		return a.fallback.Admit(ctx, identity, path)
	}

	if !allowed {
		retry := window - now.Sub(time.Unix(0, oldest))
		if retry < 0 {
			retry = 0
		}
		return Decision{
			Allowed:    false,
			Ceiling:    ceiling,
			Window:     window,
			RetryAfter: retry,
		}
	}

	remaining := ceiling - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Ceiling:   ceiling,
		Remaining: remaining,
		Window:    window,
	}
}

// parseAdmitReply decodes the Lua script reply: integers come back as int64,
// the oldest score as its string representation.
func parseAdmitReply(res []interface{}) (allowed bool, count int64, oldest int64, ok bool) {
	if len(res) < 2 {
		return false, 0, 0, false
	}

	flag, okFlag := res[0].(int64)
	count, okCount := res[1].(int64)
	if !okFlag || !okCount {
		return false, 0, 0, false
	}

	if flag == 1 {
		return true, count, 0, true
	}

	if len(res) < 3 {
		return false, 0, 0, false
	}
	s, okStr := res[2].(string)
	if !okStr {
		return false, 0, 0, false
	}
	score, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false, 0, 0, false
	}
	return false, count, int64(score), true
}
