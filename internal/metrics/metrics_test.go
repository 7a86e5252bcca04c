package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	if err := (<-ch).Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.UtteranceStarted()
	m.ChunkSent(100)
	m.ChunkSent(60)
	m.EndFrame(TriggerImmediate)
	m.EndFrame(TriggerTimer)
	m.Failure("CHANNEL_ERROR")
	m.Reply(2*time.Millisecond, 5)
	m.Reply(time.Millisecond, -1)
	m.Ask(OutcomeOK, time.Second)
	m.SessionIdle()

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"started", m.UtterancesStarted, 1},
		{"completed", m.UtterancesCompleted, 2},
		{"chunks", m.ChunksSent, 2},
		{"bytes", m.ChunkBytes, 160},
		{"immediate", m.EndFrames.WithLabelValues(TriggerImmediate), 1},
		{"timer", m.EndFrames.WithLabelValues(TriggerTimer), 1},
		{"failures", m.Failures.WithLabelValues("CHANNEL_ERROR"), 1},
		{"replies", m.RepliesReceived, 2},
		{"ask ok", m.AskRequests.WithLabelValues(OutcomeOK), 1},
		{"active", m.SessionActive, 0},
	}
	for _, tt := range tests {
		if got := counterValue(t, tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("registry should expose collectors")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.UtteranceStarted()
	m.ChunkSent(1)
	m.EndFrame(TriggerFirstChunk)
	m.Failure("X")
	m.Reply(0, 0)
	m.Ask(OutcomeError, 0)
	m.Queue(3)
	m.SessionIdle()
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("registering twice on one registry should panic")
		}
	}()
	New(reg)
}
