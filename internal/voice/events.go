package voice

import (
	"github.com/GriffinCanCode/avatar-voice/internal/audio"
	"github.com/GriffinCanCode/avatar-voice/internal/playback"
	"github.com/GriffinCanCode/avatar-voice/internal/transport"
)

// EventKind tags an input folded by the session loop.
type EventKind int

const (
	StartRequested EventKind = iota
	StopRequested
	AbortRequested
	DeviceReady
	DeviceFailed
	ChannelOpen
	ChannelFailed
	DeviceChunk
	ChannelMessage
	ChannelClose
	ChannelError
	CaptureDrained
	TimerFired
	ReplyReady
	shutdown
)

func (k EventKind) String() string {
	return [...]string{
		"start_requested", "stop_requested", "abort_requested", "device_ready", "device_failed",
		"channel_open", "channel_failed", "device_chunk", "channel_message", "channel_close",
		"channel_error", "capture_drained", "timer_fired", "reply_ready", "shutdown",
	}[k]
}

// event carries one input. utt identifies the utterance that produced it so
// results of abandoned work can be recognized.
type event struct {
	kind EventKind
	utt  uint64

	capture Capture
	channel Channel
	chunk   audio.Chunk
	frame   transport.Frame
	seq     uint64
	msg     playback.Message
	err     error
}
