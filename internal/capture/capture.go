// Package capture acquires the local microphone through PortAudio and produces
// encoded audio chunks at a fixed cadence.
package capture

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/GriffinCanCode/avatar-voice/internal/audio"
	apperrors "github.com/GriffinCanCode/avatar-voice/internal/errors"
)

// Device selects and opens the best available microphone.
type Device struct {
	sampleRate   int
	framesPerBuf int
	excludedDevs []string
}

// NewDevice creates a microphone selector.
func NewDevice(sampleRate int, excludedDevices []string) *Device {
	return &Device{
		sampleRate:   sampleRate,
		framesPerBuf: FramesPerBuffer,
		excludedDevs: excludedDevices,
	}
}

// Capture is an acquired microphone. It is exclusively owned by one voice session.
type Capture struct {
	stream     *portaudio.Stream
	buf        []float32
	sampleRate int
	device     string

	mu       sync.Mutex
	started  bool
	stopping atomic.Bool
	done     chan struct{}

	releaseOnce sync.Once
}

// Acquire initializes PortAudio and opens an input stream on the preferred microphone.
// The stream is not started until Start is called.
func (d *Device) Acquire(ctx context.Context) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "initialize audio subsystem")
	}

	dev, err := d.pickInput()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(d.sampleRate),
		FramesPerBuffer: d.framesPerBuf,
	}
	buf := make([]float32, d.framesPerBuf)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, apperrors.Wrapf(err, apperrors.DeviceUnavailable, "open input %q", dev.Name)
	}

	slog.Info("acquired audio input", "device", dev.Name, "sample_rate", d.sampleRate)
	return &Capture{
		stream:     stream,
		buf:        buf,
		sampleRate: d.sampleRate,
		device:     dev.Name,
	}, nil
}

func (d *Device) pickInput() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "list audio devices")
	}

	var mic *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || d.isExcluded(dev.Name) || !isMicrophone(dev.Name) {
			continue
		}
		if mic == nil || preferDevice(dev.Name, mic.Name) {
			mic = dev
		}
	}
	if mic != nil {
		return mic, nil
	}

	// Fall back to the host default when no device name looks like a microphone.
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil && def.MaxInputChannels > 0 && !d.isExcluded(def.Name) {
		return def, nil
	}
	return nil, apperrors.New(apperrors.DeviceUnavailable, "no audio input device available")
}

// Name returns the selected device name.
func (c *Capture) Name() string { return c.device }

// Start begins producing chunks. Samples are accumulated and handed to sink once per
// interval, in capture order. sink is called from the capture goroutine.
func (c *Capture) Start(encoding string, interval time.Duration, sink func(audio.Chunk)) error {
	if !audio.SupportsEncoding(encoding) {
		return apperrors.Newf(apperrors.EncodingUnsupported, "encoding %q is not supported", encoding)
	}
	if interval <= 0 {
		return apperrors.Newf(apperrors.InvalidArgument, "chunk interval must be positive, got %v", interval)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if err := c.stream.Start(); err != nil {
		return apperrors.Wrapf(err, apperrors.DeviceUnavailable, "start input %q", c.device)
	}
	c.started = true
	c.done = make(chan struct{})

	go c.run(encoding, interval, sink)
	return nil
}

func (c *Capture) run(encoding string, interval time.Duration, sink func(audio.Chunk)) {
	defer close(c.done)

	var (
		seq      uint64
		pending  = make([]float32, 0, int(float64(c.sampleRate)*interval.Seconds())+len(c.buf))
		lastEmit = time.Now()
	)
	emit := func() {
		if len(pending) == 0 {
			return
		}
		data, err := audio.EncodeChunk(encoding, pending, c.sampleRate)
		pending = pending[:0]
		if err != nil {
			slog.Warn("chunk encode failed", "device", c.device, "error", err)
			return
		}
		sink(audio.Chunk{Seq: seq, Data: data, Timestamp: time.Now().UnixNano()})
		seq++
	}

	for !c.stopping.Load() {
		if err := c.stream.Read(); err != nil {
			slog.Debug("audio read error", "device", c.device, "error", err)
			break
		}
		pending = append(pending, c.buf...)
		if time.Since(lastEmit) >= interval {
			emit()
			lastEmit = time.Now()
		}
	}
	// Samples already captured are still delivered after a stop request.
	emit()
}

// Stop asks the capture goroutine to stop producing. Buffered samples are flushed
// as one final chunk; the returned channel is closed after it reached the sink.
// Stop does not block.
func (c *Capture) Stop() <-chan struct{} {
	c.stopping.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return closedChan
	}
	return c.done
}

// Release stops capture, waits for the final chunk, and closes the device.
func (c *Capture) Release() {
	c.releaseOnce.Do(func() {
		<-c.Stop()
		c.mu.Lock()
		started := c.started
		c.mu.Unlock()
		if started {
			_ = c.stream.Stop()
		}
		_ = c.stream.Close()
		_ = portaudio.Terminate()
		slog.Info("released audio input", "device", c.device)
	})
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (d *Device) isExcluded(name string) bool {
	for _, ex := range d.excludedDevs {
		if containsFold(name, ex) {
			return true
		}
	}
	return false
}

func isMicrophone(name string) bool {
	for _, kw := range loopbackKeywords {
		if containsFold(name, kw) {
			return false
		}
	}
	for _, kw := range micKeywords {
		if containsFold(name, kw) {
			return true
		}
	}
	return false
}

// preferDevice prefers built-in microphones over external or virtual ones.
func preferDevice(name, current string) bool {
	for _, p := range preferredKeywords {
		if containsFold(name, p) && !containsFold(current, p) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
