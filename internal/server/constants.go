// Package server exposes the local control surface for the avatar frontend.
package server

import "time"

// Server configuration constants
const (
	// Sliding-window limit on inbound websocket messages per connection.
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Upper bound on one write to a websocket client.
	ClientWriteTimeout = 5 * time.Second
	// Outbound messages buffered per websocket client before it is
	// disconnected as too slow.
	ClientSendBuffer = 64

	// Largest accepted chat request body.
	MaxChatBodyBytes = 64 << 10
)
