package voice

// State is the protocol state of a voice session.
type State int32

const (
	Idle State = iota
	AcquiringDevice
	Connecting
	Streaming
	// WaitingForFirstChunk is entered when stop arrives before any chunk was
	// sent. It owns the end timer.
	WaitingForFirstChunk
	// Draining is entered once stop arrives with audio already sent. Chunks
	// the capture still flushes are streamed until it reports drained.
	Draining
	Ending
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AcquiringDevice:
		return "acquiring_device"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case WaitingForFirstChunk:
		return "waiting_for_first_chunk"
	case Draining:
		return "draining"
	case Ending:
		return "ending"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// connected reports whether the channel is established in this state.
func (s State) connected() bool {
	return s == Streaming || s == WaitingForFirstChunk || s == Draining || s == Ending
}
