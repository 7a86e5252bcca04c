// Package metrics exposes Prometheus instrumentation for voice sessions,
// lipsync segmentation and the ask path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "avatar_voice"

// End-of-utterance triggers.
const (
	TriggerImmediate  = "immediate"
	TriggerFirstChunk = "first_chunk"
	TriggerTimer      = "timer"
)

// Ask outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	UtterancesStarted   prometheus.Counter
	UtterancesCompleted prometheus.Counter
	SessionActive       prometheus.Gauge
	Failures            *prometheus.CounterVec
	ChunksSent          prometheus.Counter
	ChunkBytes          prometheus.Counter
	EndFrames           *prometheus.CounterVec
	RepliesReceived     prometheus.Counter
	SegmentDuration     prometheus.Histogram
	CuesPerReply        prometheus.Histogram
	AskRequests         *prometheus.CounterVec
	AskDuration         prometheus.Histogram
	QueueDepth          prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UtterancesStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_started_total",
			Help:      "Voice sessions that left Idle",
		}),
		UtterancesCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_completed_total",
			Help:      "Voice sessions that sent an end-of-utterance frame",
		}),
		SessionActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while a voice session is outside Idle",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Voice session failures by error kind",
		}, []string{"kind"}),
		ChunksSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Audio chunks transmitted",
		}),
		ChunkBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Audio bytes transmitted",
		}),
		EndFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "end_frames_total",
			Help:      "End-of-utterance frames by trigger",
		}, []string{"trigger"}),
		RepliesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_received_total",
			Help:      "Reply audio buffers received on the voice channel",
		}),
		SegmentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_duration_seconds",
			Help:      "Time spent decoding and segmenting one reply",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}),
		CuesPerReply: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cues_per_reply",
			Help:      "Mouth cues produced per reply",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		AskRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ask_requests_total",
			Help:      "Text questions by outcome",
		}, []string{"outcome"}),
		AskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_duration_seconds",
			Help:      "Text question round trip",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Messages waiting for playback",
		}),
	}
}

func (m *Metrics) UtteranceStarted() {
	if m == nil {
		return
	}
	m.UtterancesStarted.Inc()
	m.SessionActive.Set(1)
}

func (m *Metrics) SessionIdle() {
	if m == nil {
		return
	}
	m.SessionActive.Set(0)
}

func (m *Metrics) Failure(kind string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ChunkSent(n int) {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
	m.ChunkBytes.Add(float64(n))
}

func (m *Metrics) EndFrame(trigger string) {
	if m == nil {
		return
	}
	m.EndFrames.WithLabelValues(trigger).Inc()
	m.UtterancesCompleted.Inc()
}

// Reply records one segmented reply. cues < 0 means segmentation failed.
func (m *Metrics) Reply(took time.Duration, cues int) {
	if m == nil {
		return
	}
	m.RepliesReceived.Inc()
	m.SegmentDuration.Observe(took.Seconds())
	if cues >= 0 {
		m.CuesPerReply.Observe(float64(cues))
	}
}

func (m *Metrics) Ask(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.AskRequests.WithLabelValues(outcome).Inc()
	m.AskDuration.Observe(took.Seconds())
}

func (m *Metrics) Queue(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}
