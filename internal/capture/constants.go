package capture

// FramesPerBuffer is the PortAudio read size (64ms at 16kHz).
const FramesPerBuffer = 1024

var (
	// Loopback/virtual devices never count as a microphone.
	loopbackKeywords  = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
	micKeywords       = []string{"microphone", "input", "mic", "built-in"}
	preferredKeywords = []string{"macbook", "built-in"}
)
