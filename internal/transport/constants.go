package transport

import "time"

// Channel defaults
const (
	// Replies are whole WAV buffers, far larger than coder/websocket's 32 KiB default.
	DefaultReadLimit    = 32 << 20
	DefaultWriteTimeout = 5 * time.Second
	DefaultDialTimeout  = 10 * time.Second
)
