package chat

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store lookups for absent rooms or users.
var ErrNotFound = errors.New("chat: not found")

// Room is a named channel. Lifetime is process lifetime (or whatever the
// backing store decides); rooms are never deleted by the core.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a registered participant.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is the canonical stored chat message.
type Message struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sent_at"`
}

// Store is the persistence boundary the relay core depends on. The session
// gateway needs only the existence lookups, membership recording, and
// AppendMessage; the REST surface uses the rest.
type Store interface {
	CreateRoom(ctx context.Context, name string, now time.Time) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	RoomExists(ctx context.Context, roomID string) (bool, error)

	CreateUser(ctx context.Context, username string, now time.Time) (User, error)
	// UserExists reports existence and, when present, the display name.
	UserExists(ctx context.Context, userID string) (bool, string, error)

	// AddRoomMember records userID in roomID's member set (idempotent).
	AddRoomMember(ctx context.Context, roomID, userID string) error

	AppendMessage(ctx context.Context, msg Message) error
	// RecentMessages returns up to limit messages ordered oldest first.
	RecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error)

	Close() error
}
