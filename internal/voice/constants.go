package voice

import "time"

// Session defaults
const (
	DefaultChunkInterval = 250 * time.Millisecond
	DefaultEndTimeout    = 750 * time.Millisecond

	// Control frames of the voice channel protocol.
	MimePrefix = "mime:"
	EndFrame   = "end"

	eventBuffer = 64
)
