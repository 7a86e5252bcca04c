package app

const (
	DefaultQueueSize   = 32
	DefaultEventBuffer = 64
)
