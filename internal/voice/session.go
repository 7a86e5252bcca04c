// Package voice implements the push-to-talk voice session. A Session acquires
// the microphone, streams chunks over the voice channel, negotiates the end of
// the utterance, and turns reply audio into playback messages.
//
// All protocol state is owned by one goroutine that folds tagged events.
// Device acquisition, dialing, channel reads and reply decoding run elsewhere
// and report back as events tagged with the utterance that started them, so
// results of abandoned work are recognized and their resources freed.
package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/avatar-voice/internal/audio"
	apperrors "github.com/GriffinCanCode/avatar-voice/internal/errors"
	"github.com/GriffinCanCode/avatar-voice/internal/metrics"
	"github.com/GriffinCanCode/avatar-voice/internal/playback"
	"github.com/GriffinCanCode/avatar-voice/internal/trace"
	"github.com/GriffinCanCode/avatar-voice/internal/transport"
)

// Options configures a Session.
type Options struct {
	Encoding      string
	ChunkInterval time.Duration
	EndTimeout    time.Duration
	// Busy reports whether another request already occupies the shared
	// messaging path; Start is ignored while it returns true.
	Busy    func() bool
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Encoding == "" {
		o.Encoding = audio.EncodingPCM
	}
	if o.ChunkInterval <= 0 {
		o.ChunkInterval = DefaultChunkInterval
	}
	if o.EndTimeout <= 0 {
		o.EndTimeout = DefaultEndTimeout
	}
	if o.Busy == nil {
		o.Busy = func() bool { return false }
	}
	return o
}

// Session is a reusable voice session. Each Start that leaves Idle begins a new
// utterance; every failure or close returns it to Idle.
type Session struct {
	device   Device
	dialer   Dialer
	opts     Options
	listener Listener
	base     context.Context

	events chan event
	quit   chan struct{}
	done   chan struct{}

	postMu    sync.RWMutex
	closed    bool
	closeOnce sync.Once

	stateView  atomic.Int32
	recording  atomic.Bool
	processing atomic.Bool

	// Owned by the loop goroutine.
	state       State
	utt         uint64
	uttCtx      context.Context
	cancel      context.CancelFunc
	capture     Capture
	channel     Channel
	sentFrame   bool
	sentChunk   bool
	stopPending bool
	drained     bool
	endTrigger  string
	endTimer    *time.Timer
	replySeq    uint64
	nextReply   uint64
	replies     map[uint64]event
}

// New creates a session and starts its event loop. The loop stops when ctx is
// cancelled or Close is called.
func New(ctx context.Context, device Device, dialer Dialer, opts Options, l Listener) *Session {
	s := &Session{
		device:   device,
		dialer:   dialer,
		opts:     opts.withDefaults(),
		listener: l,
		base:     ctx,
		events:   make(chan event, eventBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		uttCtx:   ctx,
		replies:  make(map[uint64]event),
	}
	go s.loop()
	return s
}

// Start begins a new utterance. It returns immediately and is a no-op unless
// the session is Idle and the busy guard is clear.
func (s *Session) Start() { s.post(event{kind: StartRequested}) }

// Stop ends the current utterance through the end-of-utterance negotiation.
// It never tears the channel down by itself.
func (s *Session) Stop() { s.post(event{kind: StopRequested}) }

// Abort tears the current utterance down immediately.
func (s *Session) Abort() { s.post(event{kind: AbortRequested}) }

// Close runs the terminal cleanup and stops the event loop.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.post(event{kind: shutdown})
	})
	<-s.done
}

// Done is closed once the event loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns a snapshot of the protocol state.
func (s *Session) State() State { return State(s.stateView.Load()) }

// Recording reports whether the recording indicator is asserted.
func (s *Session) Recording() bool { return s.recording.Load() }

// Processing reports whether the processing indicator is asserted.
func (s *Session) Processing() bool { return s.processing.Load() }

func (s *Session) post(ev event) bool {
	s.postMu.RLock()
	defer s.postMu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

func (s *Session) loop() {
	defer s.finish()
	for {
		select {
		case ev := <-s.events:
			if ev.kind == shutdown {
				return
			}
			s.handle(ev)
		case <-s.base.Done():
			return
		}
	}
}

// finish tears down the live utterance and frees resources carried by events
// that will never be handled.
func (s *Session) finish() {
	s.teardown()
	close(s.quit)
	s.postMu.Lock()
	s.closed = true
	s.postMu.Unlock()
	for {
		select {
		case ev := <-s.events:
			discard(ev)
		default:
			close(s.done)
			return
		}
	}
}

func discard(ev event) {
	if ev.capture != nil {
		go ev.capture.Release()
	}
	if ev.channel != nil {
		go func() { _ = ev.channel.Close() }()
	}
}

func (s *Session) handle(ev event) {
	switch ev.kind {
	case StartRequested:
		s.onStart()
	case StopRequested:
		s.onStop()
	case AbortRequested:
		s.teardown()
	case DeviceReady:
		s.onDeviceReady(ev)
	case DeviceFailed:
		s.onDeviceFailed(ev)
	case ChannelOpen:
		s.onChannelOpen(ev)
	case ChannelFailed:
		s.onChannelFailed(ev)
	case DeviceChunk:
		s.onChunk(ev)
	case ChannelMessage:
		s.onMessage(ev)
	case ChannelClose, ChannelError:
		s.onChannelDown(ev)
	case CaptureDrained:
		s.onCaptureDrained(ev)
	case TimerFired:
		s.onTimer(ev)
	case ReplyReady:
		s.onReply(ev)
	}
}

func (s *Session) current(ev event) bool { return ev.utt == s.utt }

func (s *Session) onStart() {
	if s.state != Idle {
		s.log().Debug("start ignored", "state", s.state)
		return
	}
	if s.opts.Busy() {
		s.log().Debug("start ignored, request in flight")
		return
	}

	s.utt++
	s.uttCtx, s.cancel = context.WithCancel(trace.WithContext(s.base, trace.NewUtterance()))
	s.sentFrame, s.sentChunk, s.stopPending = false, false, false
	s.drained, s.endTrigger = false, ""
	s.setState(AcquiringDevice)
	s.opts.Metrics.UtteranceStarted()

	utt, ctx := s.utt, s.uttCtx
	go func() {
		c, err := s.device.Acquire(ctx)
		if err == nil && c == nil {
			err = apperrors.New(apperrors.DeviceUnavailable, "no capture device returned")
		}
		if err != nil {
			s.post(event{kind: DeviceFailed, utt: utt, err: err})
			return
		}
		if !s.post(event{kind: DeviceReady, utt: utt, capture: c}) {
			c.Release()
		}
	}()
}

func (s *Session) onDeviceReady(ev event) {
	if !s.current(ev) || s.state != AcquiringDevice {
		s.log().Debug("releasing capture device of abandoned utterance")
		go ev.capture.Release()
		return
	}
	s.capture = ev.capture
	if !audio.SupportsEncoding(s.opts.Encoding) {
		s.fail(apperrors.Newf(apperrors.EncodingUnsupported, "capture encoding %q is not supported", s.opts.Encoding))
		return
	}
	s.setState(Connecting)

	utt, ctx := s.utt, s.uttCtx
	go func() {
		ch, err := s.dialer.Dial(ctx)
		if err == nil && ch == nil {
			err = apperrors.New(apperrors.ConnectFailure, "no channel returned")
		}
		if err != nil {
			s.post(event{kind: ChannelFailed, utt: utt, err: err})
			return
		}
		if !s.post(event{kind: ChannelOpen, utt: utt, channel: ch}) {
			_ = ch.Close()
		}
	}()
}

func (s *Session) onDeviceFailed(ev event) {
	if !s.current(ev) || s.state != AcquiringDevice {
		return
	}
	s.fail(withKind(ev.err, apperrors.DeviceUnavailable, "acquire capture device"))
}

func (s *Session) onChannelFailed(ev event) {
	if !s.current(ev) || s.state != Connecting {
		return
	}
	s.fail(withKind(ev.err, apperrors.ConnectFailure, "open voice channel"))
}

func (s *Session) onChannelOpen(ev event) {
	if !s.current(ev) || s.state != Connecting {
		s.log().Debug("closing channel of abandoned utterance")
		go func() { _ = ev.channel.Close() }()
		return
	}
	s.channel = ev.channel
	go s.readLoop(s.uttCtx, s.utt, s.channel)

	if err := s.channel.SendText(s.uttCtx, MimePrefix+mediaType(s.opts.Encoding)); err != nil {
		s.fail(apperrors.Wrap(err, apperrors.ConnectFailure, "send encoding declaration"))
		return
	}
	s.sentFrame = true

	utt := s.utt
	err := s.capture.Start(s.opts.Encoding, s.opts.ChunkInterval, func(c audio.Chunk) {
		s.post(event{kind: DeviceChunk, utt: utt, chunk: c})
	})
	if err != nil {
		s.fail(withKind(err, apperrors.DeviceUnavailable, "start capture"))
		return
	}
	s.setState(Streaming)
	s.setRecording(true)

	if s.stopPending {
		s.stopPending = false
		s.terminate()
	}
}

func (s *Session) onStop() {
	switch s.state {
	case AcquiringDevice, Connecting:
		// Honoured once streaming so the remote still sees mime, chunks, end.
		s.stopPending = true
	case Streaming:
		s.terminate()
	default:
		s.log().Debug("stop ignored", "state", s.state)
	}
}

// terminate starts the end-of-utterance negotiation. Chunks the capture
// flushes after Stop are still streamed; end goes out once the capture has
// drained, or when the end timer fires, whichever comes first.
func (s *Session) terminate() {
	utt := s.utt
	drained := s.capture.Stop()
	go func() {
		select {
		case <-drained:
			s.post(event{kind: CaptureDrained, utt: utt})
		case <-s.quit:
		}
	}()

	if s.sentChunk {
		s.endTrigger = metrics.TriggerImmediate
		s.setState(Draining)
	} else {
		s.setState(WaitingForFirstChunk)
	}
	s.endTimer = time.AfterFunc(s.opts.EndTimeout, func() {
		s.post(event{kind: TimerFired, utt: utt})
	})
}

func (s *Session) onChunk(ev event) {
	if !s.current(ev) || len(ev.chunk.Data) == 0 {
		return
	}
	switch s.state {
	case Streaming, WaitingForFirstChunk, Draining:
	case Ending:
		s.log().Debug("discarding chunk captured after end", "seq", ev.chunk.Seq)
		return
	default:
		return
	}

	if err := s.channel.SendBinary(s.uttCtx, ev.chunk.Data); err != nil {
		s.fail(withKind(err, apperrors.ChannelError, "send chunk"))
		return
	}
	s.sentChunk = true
	s.opts.Metrics.ChunkSent(len(ev.chunk.Data))

	if s.state == WaitingForFirstChunk {
		s.endTrigger = metrics.TriggerFirstChunk
		s.setState(Draining)
		if s.drained {
			s.stopTimer()
			s.sendEnd(s.endTrigger)
		}
	}
}

// onCaptureDrained ends the utterance once the last flushed chunk has been
// sent. With nothing sent yet the end timer stays in charge.
func (s *Session) onCaptureDrained(ev event) {
	if !s.current(ev) {
		return
	}
	s.drained = true
	if s.state != Draining {
		return
	}
	s.stopTimer()
	s.sendEnd(s.endTrigger)
}

func (s *Session) onTimer(ev event) {
	if !s.current(ev) {
		return
	}
	if s.state != WaitingForFirstChunk && s.state != Draining {
		return
	}
	s.endTimer = nil
	s.sendEnd(metrics.TriggerTimer)
}

func (s *Session) sendEnd(trigger string) {
	if err := s.channel.SendText(s.uttCtx, EndFrame); err != nil {
		s.fail(withKind(err, apperrors.ChannelError, "send end frame"))
		return
	}
	s.opts.Metrics.EndFrame(trigger)
	s.log().Debug("end of utterance sent", "trigger", trigger)
	s.setState(Ending)
	s.setProcessing(true)
}

func (s *Session) onMessage(ev event) {
	if !s.current(ev) || !s.state.connected() {
		return
	}
	if !ev.frame.Binary {
		s.log().Debug("ignoring control frame", "text", string(ev.frame.Data))
		return
	}
	seq := s.replySeq
	s.replySeq++
	go s.decode(seq, s.utteranceID(), ev.frame.Data)
}

func (s *Session) decode(seq uint64, utteranceID string, data []byte) {
	start := time.Now()
	msg, err := playback.Build(data, playback.DefaultMimeType)
	msg.UtteranceID = utteranceID
	cues := -1
	if msg.HasCues() {
		cues = len(msg.Lipsync.MouthCues)
	}
	s.opts.Metrics.Reply(time.Since(start), cues)
	s.post(event{kind: ReplyReady, seq: seq, msg: msg, err: err})
}

// onReply delivers decoded replies in arrival order, whatever state the session
// reached meanwhile.
func (s *Session) onReply(ev event) {
	s.replies[ev.seq] = ev
	for {
		r, ok := s.replies[s.nextReply]
		if !ok {
			return
		}
		delete(s.replies, s.nextReply)
		s.nextReply++

		if s.listener.OnMessage != nil {
			s.listener.OnMessage(r.msg)
		}
		if r.err != nil {
			s.log().Warn("reply has no lipsync", "message_id", r.msg.ID, "error", r.err)
			s.opts.Metrics.Failure(apperrors.KindOf(r.err).String())
			s.emitError(r.err)
		}
	}
}

func (s *Session) onChannelDown(ev event) {
	if !s.current(ev) || s.state == Idle || s.state == Closed {
		return
	}
	switch {
	case !s.sentFrame:
		s.fail(apperrors.Wrap(ev.err, apperrors.ConnectFailure, "channel closed before any frame was sent"))
	case ev.kind == ChannelClose:
		s.log().Info("voice channel closed", "state", s.state)
		s.teardown()
	default:
		s.fail(withKind(ev.err, apperrors.ChannelError, "voice channel"))
	}
}

func (s *Session) readLoop(ctx context.Context, utt uint64, ch Channel) {
	for {
		f, err := ch.Read(ctx)
		if err != nil {
			kind := ChannelError
			if transport.IsNormalClose(err) {
				kind = ChannelClose
			}
			s.post(event{kind: kind, utt: utt, err: err})
			return
		}
		if !s.post(event{kind: ChannelMessage, utt: utt, frame: f}) {
			return
		}
	}
}

func (s *Session) fail(err error) {
	kind := apperrors.KindOf(err)
	s.log().Warn("voice session failed", "kind", kind, "state", s.state, "error", err)
	s.opts.Metrics.Failure(kind.String())
	s.teardown()
	s.emitError(err)
}

// teardown is the single terminal cleanup path. It is a no-op in Idle.
func (s *Session) teardown() {
	if s.state == Idle {
		return
	}
	s.setState(Closed)
	s.stopTimer()

	capture, channel, cancel := s.capture, s.channel, s.cancel
	s.capture, s.channel, s.cancel = nil, nil, nil
	go func() {
		if capture != nil {
			capture.Release()
		}
		if channel != nil {
			_ = channel.Close()
		}
		if cancel != nil {
			cancel()
		}
	}()

	s.sentFrame, s.sentChunk, s.stopPending = false, false, false
	s.drained, s.endTrigger = false, ""
	s.setRecording(false)
	s.setProcessing(false)
	s.setState(Idle)
	s.opts.Metrics.SessionIdle()
}

func (s *Session) stopTimer() {
	if s.endTimer != nil {
		s.endTimer.Stop()
		s.endTimer = nil
	}
}

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.stateView.Store(int32(to))
	s.log().Debug("voice state", "from", from, "to", to)
	if s.listener.OnStateChanged != nil {
		s.listener.OnStateChanged(from, to)
	}
}

func (s *Session) setRecording(v bool) {
	s.recording.Store(v)
	if s.listener.OnRecordingStateChanged != nil {
		s.listener.OnRecordingStateChanged(v)
	}
}

func (s *Session) setProcessing(v bool) {
	s.processing.Store(v)
	if s.listener.OnProcessingStateChanged != nil {
		s.listener.OnProcessingStateChanged(v)
	}
}

func (s *Session) emitError(err error) {
	if s.listener.OnError != nil {
		s.listener.OnError(err)
	}
}

func (s *Session) utteranceID() string {
	tc, _ := trace.FromContext(s.uttCtx)
	return tc.UtteranceID
}

func (s *Session) log() *slog.Logger { return trace.Logger(s.uttCtx) }

// withKind keeps an error's kind when it has one and assigns kind otherwise.
func withKind(err error, kind apperrors.Kind, msg string) error {
	if apperrors.KindOf(err) != apperrors.Unknown {
		return err
	}
	return apperrors.Wrap(err, kind, msg)
}

// mediaType strips parameters: "audio/webm;codecs=opus" is declared as "audio/webm".
func mediaType(encoding string) string {
	mt, _, _ := strings.Cut(encoding, ";")
	return strings.TrimSpace(mt)
}
