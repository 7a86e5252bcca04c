package voice

import (
	"context"
	"time"

	"github.com/GriffinCanCode/avatar-voice/internal/audio"
	"github.com/GriffinCanCode/avatar-voice/internal/playback"
	"github.com/GriffinCanCode/avatar-voice/internal/transport"
)

// Capture is an acquired capture device, exclusively owned by one utterance.
type Capture interface {
	// Start pushes chunks to sink in capture order until Stop.
	Start(encoding string, interval time.Duration, sink func(audio.Chunk)) error
	// Stop ends chunk production. Chunks already buffered are still delivered;
	// the returned channel is closed once the last one has been handed to sink.
	Stop() <-chan struct{}
	// Release frees the device. It must be safe to call more than once.
	Release()
}

// Device acquires the local capture device.
type Device interface {
	Acquire(ctx context.Context) (Capture, error)
}

// DeviceFunc adapts a function to Device.
type DeviceFunc func(ctx context.Context) (Capture, error)

func (f DeviceFunc) Acquire(ctx context.Context) (Capture, error) { return f(ctx) }

// Channel is an established duplex channel to the remote service.
type Channel interface {
	SendText(ctx context.Context, s string) error
	SendBinary(ctx context.Context, p []byte) error
	// Read blocks for the next inbound frame. An orderly close is reported as an
	// error satisfying transport.IsNormalClose.
	Read(ctx context.Context) (transport.Frame, error)
	Close() error
}

// Dialer opens a channel for one utterance.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context) (Channel, error) { return f(ctx) }

// Listener receives application-facing events. Callbacks run on the session
// goroutine and must not block. Nil callbacks are skipped.
type Listener struct {
	OnRecordingStateChanged  func(recording bool)
	OnProcessingStateChanged func(processing bool)
	OnMessage                func(msg playback.Message)
	OnError                  func(err error)
	OnStateChanged           func(from, to State)
}
