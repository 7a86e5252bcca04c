// Package app coordinates the voice session, the text ask path and the reply
// queue consumed by the avatar.
package app

import (
	"context"
	"time"

	apperrors "github.com/GriffinCanCode/avatar-voice/internal/errors"
	"github.com/GriffinCanCode/avatar-voice/internal/metrics"
	"github.com/GriffinCanCode/avatar-voice/internal/playback"
	"github.com/GriffinCanCode/avatar-voice/internal/syncx"
	"github.com/GriffinCanCode/avatar-voice/internal/trace"
	"github.com/GriffinCanCode/avatar-voice/internal/voice"
)

// Event types published on Events.
const (
	EventRecording  = "recording"
	EventProcessing = "processing"
	EventMessage    = "message"
	EventError      = "error"
	EventState      = "state"
)

// ErrBusy is returned by Chat while another request occupies the reply path.
var ErrBusy = apperrors.New(apperrors.Unavailable, "a request is already in flight")

// Event is one notification for the presentation layer.
type Event struct {
	Type    string            `json:"type"`
	Value   *bool             `json:"value,omitempty"`
	Message *playback.Message `json:"message,omitempty"`
	Kind    string            `json:"kind,omitempty"`
	Error   string            `json:"error,omitempty"`
	State   string            `json:"state,omitempty"`
	At      time.Time         `json:"at"`
}

// Asker answers text questions with a playable reply.
type Asker interface {
	Ask(ctx context.Context, question string) (playback.Message, error)
}

// Options configures an App.
type Options struct {
	Voice       voice.Options
	QueueSize   int
	EventBuffer int
	Metrics     *metrics.Metrics
}

// Status is a point-in-time snapshot of the application.
type Status struct {
	State      string `json:"state"`
	Recording  bool   `json:"recording"`
	Processing bool   `json:"processing"`
	Loading    bool   `json:"loading"`
	Queued     int    `json:"queued"`
	Dropped    int    `json:"dropped"`
	LastError  string `json:"last_error,omitempty"`
}

// flags is the shared reply path. chatting and voice are claimed under one
// lock so a chat and an utterance never both pass their guards.
type flags struct {
	chatting  bool
	voice     bool
	lastError string
}

// App owns one voice session, the ask client and the reply queue.
type App struct {
	session *voice.Session
	asker   Asker
	queue   *playback.Queue
	metrics *metrics.Metrics
	flags   *syncx.RWGuard[flags]
	events  chan Event
}

// New wires the voice session to the queue and event stream.
func New(ctx context.Context, device voice.Device, dialer voice.Dialer, asker Asker, opts Options) *App {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	a := &App{
		asker:   asker,
		queue:   playback.NewQueue(opts.QueueSize),
		metrics: opts.Metrics,
		flags:   syncx.NewGuard(flags{}),
		events:  make(chan Event, opts.EventBuffer),
	}

	vopts := opts.Voice
	vopts.Busy = a.claimVoice
	if vopts.Metrics == nil {
		vopts.Metrics = opts.Metrics
	}
	a.session = voice.New(ctx, device, dialer, vopts, voice.Listener{
		OnRecordingStateChanged:  func(v bool) { a.emitFlag(EventRecording, v) },
		OnProcessingStateChanged: func(v bool) { a.emitFlag(EventProcessing, v) },
		OnMessage:                a.deliver,
		OnError:                  a.reportError,
		OnStateChanged: func(_, to voice.State) {
			if to == voice.Idle {
				a.flags.Write(func(f *flags) { f.voice = false })
			}
			a.emit(Event{Type: EventState, State: to.String()})
		},
	})
	return a
}

// StartVoice begins an utterance. It is ignored while a text request is in
// flight or an utterance is already active.
func (a *App) StartVoice() { a.session.Start() }

// StopVoice ends the current utterance.
func (a *App) StopVoice() { a.session.Stop() }

// CancelVoice tears the current utterance down without waiting for a reply.
func (a *App) CancelVoice() { a.session.Abort() }

// Chat asks a text question and queues the reply. It is refused with ErrBusy
// while loading or recording.
func (a *App) Chat(ctx context.Context, text string) (playback.Message, error) {
	claimed := syncx.Modify(a.flags, func(f *flags) bool {
		if f.chatting || f.voice {
			return false
		}
		f.chatting = true
		return true
	})
	if !claimed {
		return playback.Message{}, ErrBusy
	}
	a.emitFlag(EventProcessing, true)
	defer func() {
		a.flags.Write(func(f *flags) { f.chatting = false })
		a.emitFlag(EventProcessing, a.Loading())
	}()

	log := trace.Logger(ctx)
	msg, err := a.asker.Ask(ctx, text)
	if err != nil {
		log.Warn("chat failed", "error", err)
		a.reportError(err)
		return playback.Message{}, err
	}
	a.deliver(msg)
	return msg, nil
}

// Message returns the reply currently at the head of the queue.
func (a *App) Message() (playback.Message, bool) { return a.queue.Current() }

// MessagePlayed drops the head reply and returns the next one, if any.
func (a *App) MessagePlayed() (playback.Message, bool) {
	next, ok := a.queue.Played()
	a.metrics.Queue(a.queue.Len())
	return next, ok
}

// Loading reports whether a reply is being awaited on either path.
func (a *App) Loading() bool {
	return a.chatting() || a.session.Processing()
}

// State returns a snapshot for the presentation layer.
func (a *App) State() Status {
	f := a.flags.Get()
	return Status{
		State:      a.session.State().String(),
		Recording:  a.session.Recording(),
		Processing: a.session.Processing(),
		Loading:    f.chatting || a.session.Processing(),
		Queued:     a.queue.Len(),
		Dropped:    a.queue.Dropped(),
		LastError:  f.lastError,
	}
}

// Events returns the notification stream. Events are dropped when the buffer
// is full.
func (a *App) Events() <-chan Event { return a.events }

// Close stops the voice session, releasing any held device and channel.
func (a *App) Close() { a.session.Close() }

// claimVoice is the session's busy guard. It runs on the session goroutine
// only when the session is Idle; a false result claims the reply path until
// the session returns to Idle.
func (a *App) claimVoice() bool {
	return syncx.Modify(a.flags, func(f *flags) bool {
		if f.chatting {
			return true
		}
		f.voice = true
		return false
	})
}

func (a *App) chatting() bool {
	return syncx.View(a.flags, func(f flags) bool { return f.chatting })
}

func (a *App) deliver(msg playback.Message) {
	kept := a.queue.Push(msg)
	a.metrics.Queue(a.queue.Len())
	if !kept {
		trace.Logger(context.Background()).Warn("reply dropped, queue full", "message_id", msg.ID)
		return
	}
	a.emit(Event{Type: EventMessage, Message: &msg})
}

func (a *App) reportError(err error) {
	a.flags.Write(func(f *flags) { f.lastError = err.Error() })
	a.emit(Event{Type: EventError, Kind: apperrors.KindOf(err).String(), Error: err.Error()})
}

func (a *App) emitFlag(typ string, v bool) {
	a.emit(Event{Type: typ, Value: &v})
}

func (a *App) emit(ev Event) {
	ev.At = time.Now()
	select {
	case a.events <- ev:
	default:
		trace.Logger(context.Background()).Debug("event dropped", "type", ev.Type)
	}
}
