package lipsync

// Analysis window and filter settings.
const (
	FrameSeconds  = 0.06
	HopSeconds    = 0.03
	MinCueSeconds = 0.04
)

// RMS lower bounds (exclusive) per viseme.
const (
	RMSWideOpen   = 0.12
	RMSRounded    = 0.08
	RMSMid        = 0.05
	RMSSlightOpen = 0.02
)
