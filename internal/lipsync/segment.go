// Package lipsync estimates mouth-shape cues from audio amplitude.
//
// The signal is analysed in overlapping RMS windows; each window is mapped to a
// coarse viseme by a fixed threshold table and runs of equal visemes are merged
// into cues. Output is deterministic and the package holds no state.
package lipsync

import (
	"math"

	"github.com/GriffinCanCode/avatar-voice/internal/audio"
	apperrors "github.com/GriffinCanCode/avatar-voice/internal/errors"
)

// Viseme is a coarse mouth shape.
type Viseme string

const (
	VisemeA Viseme = "A" // wide open
	VisemeC Viseme = "C" // slight open
	VisemeE Viseme = "E" // mid
	VisemeF Viseme = "F" // rounded
	VisemeX Viseme = "X" // closed, the default pose
)

// MouthCue is a timed viseme. Start and End are seconds from the buffer start.
type MouthCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Value Viseme  `json:"value"`
}

// Duration returns End - Start.
func (c MouthCue) Duration() float64 { return c.End - c.Start }

// Lipsync is the envelope handed to the avatar renderer.
type Lipsync struct {
	MouthCues []MouthCue `json:"mouthCues"`
}

// thresholds is evaluated top-down; the first rms strictly above the bound wins.
var thresholds = []struct {
	bound  float64
	viseme Viseme
}{
	{RMSWideOpen, VisemeA},
	{RMSRounded, VisemeF},
	{RMSMid, VisemeE},
	{RMSSlightOpen, VisemeC},
}

// VisemeForRMS maps a window amplitude to a viseme.
func VisemeForRMS(rms float64) Viseme {
	for _, t := range thresholds {
		if rms > t.bound {
			return t.viseme
		}
	}
	return VisemeX
}

// Segment turns a mono signal into ordered, non-overlapping mouth cues.
//
// Windows of FrameSeconds advance by HopSeconds; the last window is clipped to
// the buffer end. A cue boundary is placed at the start of the first window whose
// viseme differs from the previous one, and the final cue closes at the buffer
// duration. Cues no longer than MinCueSeconds are then dropped without filling
// the gap they leave. A buffer shorter than that yields no cues.
func Segment(samples []float32, sampleRate int) ([]MouthCue, error) {
	if sampleRate <= 0 {
		return nil, apperrors.Newf(apperrors.DecodeFailure, "invalid sample rate %d", sampleRate)
	}

	frame := max(1, int(math.Floor(float64(sampleRate)*FrameSeconds)))
	hop := max(1, int(math.Floor(float64(sampleRate)*HopSeconds)))
	rate := float64(sampleRate)

	var (
		cues      []MouthCue
		current   Viseme
		openStart float64
	)
	for i := 0; i < len(samples); i += hop {
		v := VisemeForRMS(rms(samples[i:min(i+frame, len(samples))]))
		t := float64(i) / rate
		switch {
		case current == "":
			current, openStart = v, t
		case v != current:
			cues = append(cues, MouthCue{Start: openStart, End: t, Value: current})
			current, openStart = v, t
		}
	}
	if current != "" {
		cues = append(cues, MouthCue{Start: openStart, End: float64(len(samples)) / rate, Value: current})
	}

	kept := cues[:0]
	for _, c := range cues {
		if c.Duration() > MinCueSeconds {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// SegmentBuffer segments a decoded buffer.
func SegmentBuffer(buf audio.Buffer) ([]MouthCue, error) {
	return Segment(buf.Samples, buf.SampleRate)
}

// SegmentWAV decodes a WAV buffer and segments its first channel.
// Decode errors carry the DecodeFailure kind.
func SegmentWAV(data []byte) ([]MouthCue, error) {
	buf, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	return SegmentBuffer(buf)
}

func rms(window []float32) float64 {
	var sum float64
	for _, s := range window {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(max(1, len(window))))
}
