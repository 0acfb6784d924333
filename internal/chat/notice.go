// Package chat contains the room relay core: connection registry, broadcast
// engine, session gateway, and the persistence boundary.
package chat

import (
	"fmt"
	"time"
)

// Notice type discriminators (wire-stable).
const (
	TypeUserJoined = "user_joined"
	TypeUserLeft   = "user_left"
	TypeMessage    = "message"
	TypeError      = "error"
)

// Notice is the outbound wire object. Fields are populated per type:
//   - user_joined / user_left: Message, Timestamp
//   - message: ID, UserID, Username, Content, Timestamp
//   - error: Message only, and it is sent to one connection, never broadcast
type Notice struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Inbound is the payload clients send. Unknown fields are ignored.
type Inbound struct {
	Content string `json:"content"`
}

func joinNotice(username string, now time.Time) Notice {
	return Notice{
		Type:      TypeUserJoined,
		Message:   fmt.Sprintf("%s joined the room", username),
		Timestamp: now,
	}
}

func leaveNotice(username string, now time.Time) Notice {
	return Notice{
		Type:      TypeUserLeft,
		Message:   fmt.Sprintf("%s left the room", username),
		Timestamp: now,
	}
}

func messageNotice(m Message) Notice {
	return Notice{
		Type:      TypeMessage,
		ID:        m.ID,
		UserID:    m.UserID,
		Username:  m.Username,
		Content:   m.Content,
		Timestamp: m.SentAt,
	}
}

func errorNotice(msg string) Notice {
	return Notice{Type: TypeError, Message: msg}
}
