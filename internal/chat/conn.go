package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// wirePipe is the transport surface Conn needs. *websocket.Conn satisfies it;
// tests inject fakes.
type wirePipe interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Conn is one live attachment, bound to a single room and user for its
// lifetime. Ownership sits with the Registry entry that holds it; the session
// gateway only operates on it while relaying.
type Conn struct {
	RoomID   string
	UserID   string
	Username string

	pipe         wirePipe
	writeTimeout time.Duration

	// superseded is set when a newer connection for the same user displaces
	// this one; the session reads it on teardown.
	superseded atomic.Bool

	// mu serializes writes: broadcasts and direct error notices may race.
	mu sync.Mutex
}

func newConn(roomID, userID, username string, pipe wirePipe, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Conn{
		RoomID:       roomID,
		UserID:       userID,
		Username:     username,
		pipe:         pipe,
		writeTimeout: writeTimeout,
	}
}

// Send writes one payload with the connection's write timeout. A non-nil
// error marks the connection as failed; callers prune it via the Registry.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	return c.pipe.Write(wctx, websocket.MessageText, payload)
}

// CloseWith closes the underlying transport with a status code and reason.
func (c *Conn) CloseWith(code websocket.StatusCode, reason string) {
	_ = c.pipe.Close(code, reason)
}

// markSuperseded records that a newer connection took this one's place. The
// user is still in the room, so the displaced session must not announce a
// departure.
func (c *Conn) markSuperseded() { c.superseded.Store(true) }

func (c *Conn) wasSuperseded() bool { return c.superseded.Load() }
