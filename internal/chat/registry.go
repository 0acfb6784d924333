package chat

import (
	"log/slog"
	"sync"
)

// Registry tracks live connections per room and per user.
//
// Concurrency model:
// - One mutex per registry. Operations are O(1) append/remove plus an O(n)
//   copy for Snapshot, and never perform I/O under the lock.
// - Broadcasters iterate snapshots, never the live collections, so
//   concurrent disconnects cannot corrupt a fanout pass.
type Registry struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string][]*Conn
	users map[string]*Conn
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		rooms: make(map[string][]*Conn),
		users: make(map[string]*Conn),
	}
}

// Register appends conn to its room's collection in registration order and
// tracks it as the user's live connection. A prior connection for the same
// user is removed from its room and returned so the caller can close it;
// leaving it orphaned until its own send fails is the race this supersedes.
func (r *Registry) Register(conn *Conn) (displaced *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := r.users[conn.UserID]; prev != nil && prev != conn {
		r.removeFromRoom(prev)
		displaced = prev
	}

	r.rooms[conn.RoomID] = append(r.rooms[conn.RoomID], conn)
	r.users[conn.UserID] = conn

	r.log.Info("registry.register", "room_id", conn.RoomID, "user_id", conn.UserID)
	return displaced
}

// Deregister removes conn from its room's collection if present. The user
// mapping is dropped only if it still points at this exact connection, so a
// stale disconnect firing late cannot remove a newer connection's mapping.
func (r *Registry) Deregister(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeFromRoom(conn)
	if r.users[conn.UserID] == conn {
		delete(r.users, conn.UserID)
	}

	r.log.Info("registry.deregister", "room_id", conn.RoomID, "user_id", conn.UserID)
}

// Snapshot returns a copy of roomID's connection collection in registration
// order. Callers iterate the copy without holding the registry lock.
func (r *Registry) Snapshot(roomID string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := r.rooms[roomID]
	if len(live) == 0 {
		return nil
	}
	out := make([]*Conn, len(live))
	copy(out, live)
	return out
}

// removeFromRoom drops conn from its room slice. Caller holds the lock.
func (r *Registry) removeFromRoom(conn *Conn) {
	conns := r.rooms[conn.RoomID]
	for i, c := range conns {
		if c == conn {
			r.rooms[conn.RoomID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(r.rooms[conn.RoomID]) == 0 {
		delete(r.rooms, conn.RoomID)
	}
}
