package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

const memMaxMessagesPerRoom = 10_000

// MemoryStore is the in-process Store used for dev and tests.
type MemoryStore struct {
	mu      sync.Mutex
	rooms   map[string]Room
	users   map[string]User
	members map[string]map[string]struct{} // room_id -> user ids
	msgs    map[string][]Message           // room_id -> ordered by arrival
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:   make(map[string]Room),
		users:   make(map[string]User),
		members: make(map[string]map[string]struct{}),
		msgs:    make(map[string][]Message),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// CreateRoom allocates a room with a fresh id.
func (s *MemoryStore) CreateRoom(ctx context.Context, name string, now time.Time) (Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Room{}, errors.New("chat: empty room name")
	}
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	id, err := newID(now)
	if err != nil {
		return Room{}, err
	}
	room := Room{ID: id, Name: name, CreatedAt: now}

	s.mu.Lock()
	s.rooms[room.ID] = room
	s.mu.Unlock()
	return room, nil
}

// ListRooms returns all rooms ordered by creation time.
func (s *MemoryStore) ListRooms(ctx context.Context) ([]Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	s.mu.Unlock()

	// ULIDs sort by creation time lexicographically.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RoomExists reports whether roomID is known.
func (s *MemoryStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	_, ok := s.rooms[roomID]
	s.mu.Unlock()
	return ok, nil
}

// CreateUser allocates a user with a fresh id.
func (s *MemoryStore) CreateUser(ctx context.Context, username string, now time.Time) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, errors.New("chat: empty username")
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	id, err := newID(now)
	if err != nil {
		return User{}, err
	}
	user := User{ID: id, Username: username, CreatedAt: now}

	s.mu.Lock()
	s.users[user.ID] = user
	s.mu.Unlock()
	return user, nil
}

// UserExists reports whether userID is known and returns the display name.
func (s *MemoryStore) UserExists(ctx context.Context, userID string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	s.mu.Lock()
	u, ok := s.users[userID]
	s.mu.Unlock()
	if !ok {
		return false, "", nil
	}
	return true, u.Username, nil
}

// AddRoomMember records membership (idempotent).
func (s *MemoryStore) AddRoomMember(ctx context.Context, roomID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return ErrNotFound
	}
	set := s.members[roomID]
	if set == nil {
		set = make(map[string]struct{})
		s.members[roomID] = set
	}
	set[userID] = struct{}{}
	return nil
}

// AppendMessage stores msg, bounding per-room retention.
func (s *MemoryStore) AppendMessage(ctx context.Context, msg Message) error {
	if msg.RoomID == "" || msg.UserID == "" || msg.ID == "" {
		return errors.New("chat: invalid message")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.msgs[msg.RoomID], msg)
	if len(msgs) > memMaxMessagesPerRoom {
		msgs = msgs[len(msgs)-memMaxMessagesPerRoom:]
	}
	s.msgs[msg.RoomID] = msgs
	return nil
}

// RecentMessages returns up to limit of the newest messages, oldest first.
func (s *MemoryStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	msgs := s.msgs[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := append([]Message(nil), msgs...)
	s.mu.Unlock()
	return out, nil
}
