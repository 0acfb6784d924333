package chat

import "time"

// Transport and payload limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message content length (runes).
	maxContentChars = 4000
)

const (
	defaultWriteTimeout    = 5 * time.Second
	defaultReadIdleTimeout = 2 * time.Minute

	heartbeatInterval  = 25 * time.Second
	heartbeatTimeout   = 5 * time.Second
	maxHeartbeatMisses = 3
	closeGrace         = 1 * time.Second
)

// Application close codes (the 4000-4999 range is reserved for private use).
const (
	// StatusNotFound closes a session whose room or user does not exist.
	StatusNotFound = 4004

	// StatusSuperseded closes an older connection displaced by a newer one
	// for the same user.
	StatusSuperseded = 4005
)
