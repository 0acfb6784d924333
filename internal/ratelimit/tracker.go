package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// windowTracker holds per-(identity, path) request timestamp logs.
//
// Concurrency model:
// - One mutex guards the whole table. Critical sections are O(window
//   occupancy) and never perform I/O, so coarse locking is fine.
// - Trim and append happen under the same lock acquisition; concurrent
//   callers can never observe a torn trim+append.
type windowTracker struct {
	mu      sync.Mutex
	entries map[string]*windowEntry

	lastCleanup  time.Time
	lastEviction time.Time
}

type windowEntry struct {
	// stamps is ascending by construction: entries are only appended with
	// the current time, so expiry is a prefix trim rather than a scan.
	stamps     []time.Time
	lastAccess time.Time
}

func newWindowTracker() *windowTracker {
	return &windowTracker{entries: make(map[string]*windowEntry)}
}

// observe trims the entry's window, then either records the request and
// reports the remaining budget, or denies it with a retry-after duration.
func (t *windowTracker) observe(key string, now time.Time, ceiling int, window time.Duration) (bool, int, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entries[key]
	if e == nil {
		e = &windowEntry{stamps: make([]time.Time, 0, 8)}
		t.entries[key] = e
	}
	e.lastAccess = now

	cutoff := now.Add(-window)
	drop := 0
	for drop < len(e.stamps) && !e.stamps[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		e.stamps = append(e.stamps[:0], e.stamps[drop:]...)
	}

	if len(e.stamps) >= ceiling {
		retry := window - now.Sub(e.stamps[0])
		if retry < 0 {
			retry = 0
		}
		// The denied request is not recorded.
		return false, 0, retry
	}

	e.stamps = append(e.stamps, now)
	return true, ceiling - len(e.stamps), 0
}

// maintain runs the two bounded maintenance passes. Each is rate-limited by
// its own last-run timestamp so most calls return immediately.
func (t *windowTracker) maintain(now time.Time, every, idleTTL time.Duration, maxEntries int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastCleanup) >= every {
		t.lastCleanup = now
		cutoff := now.Add(-idleTTL)
		for key, e := range t.entries {
			if e.lastAccess.Before(cutoff) {
				delete(t.entries, key)
			}
		}
	}

	if now.Sub(t.lastEviction) >= every && len(t.entries) > maxEntries {
		t.lastEviction = now
		t.evictOldest(len(t.entries) / 10)
	}
}

// evictOldest drops the n least-recently-accessed entries regardless of
// whether their windows have expired. Caller holds the lock.
func (t *windowTracker) evictOldest(n int) {
	if n <= 0 {
		n = 1
	}

	type aged struct {
		key    string
		access time.Time
	}
	all := make([]aged, 0, len(t.entries))
	for key, e := range t.entries {
		all = append(all, aged{key: key, access: e.lastAccess})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].access.Before(all[j].access) })

	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(t.entries, a.key)
	}
}

// size reports the tracked entry count (test hook).
func (t *windowTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
