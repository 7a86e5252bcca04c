package lipsync

import (
	"math"
	"reflect"
	"testing"

	"github.com/GriffinCanCode/avatar-voice/internal/audio"
	apperrors "github.com/GriffinCanCode/avatar-voice/internal/errors"
)

const rate = 16000

// constant returns n seconds of a constant-amplitude signal.
func constant(seconds float64, amp float32) []float32 {
	out := make([]float32, int(seconds*rate))
	for i := range out {
		out[i] = amp
	}
	return out
}

func concat(parts ...[]float32) []float32 {
	var out []float32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestVisemeForRMS(t *testing.T) {
	tests := []struct {
		rms  float64
		want Viseme
	}{
		{0.5, VisemeA},
		{0.1201, VisemeA},
		{0.12, VisemeF},
		{0.09, VisemeF},
		{0.08, VisemeE},
		{0.06, VisemeE},
		{0.05, VisemeC},
		{0.03, VisemeC},
		{0.02, VisemeX},
		{0, VisemeX},
	}
	for _, tt := range tests {
		if got := VisemeForRMS(tt.rms); got != tt.want {
			t.Errorf("VisemeForRMS(%v) = %q, want %q", tt.rms, got, tt.want)
		}
	}
}

func TestSegmentSilence(t *testing.T) {
	cues, err := Segment(constant(1.0, 0), rate)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	want := []MouthCue{{Start: 0, End: 1.0, Value: VisemeX}}
	if !reflect.DeepEqual(cues, want) {
		t.Errorf("cues = %+v, want %+v", cues, want)
	}
}

func TestSegmentShorterThanFilter(t *testing.T) {
	cues, err := Segment(constant(0.03, 0), rate)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if len(cues) != 0 {
		t.Errorf("cues = %+v, want none (buffer shorter than minimum cue)", cues)
	}
}

func TestSegmentEmpty(t *testing.T) {
	cues, err := Segment(nil, rate)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if len(cues) != 0 {
		t.Errorf("cues = %+v, want none", cues)
	}
}

func TestSegmentLoudThenSilent(t *testing.T) {
	cues, err := Segment(concat(constant(0.2, 0.5), constant(0.2, 0)), rate)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if len(cues) != 2 {
		t.Fatalf("cues = %+v, want 2", cues)
	}
	if cues[0].Value != VisemeA || cues[1].Value != VisemeX {
		t.Errorf("values = %q,%q, want A,X", cues[0].Value, cues[1].Value)
	}
	if d := math.Abs(cues[0].End - 0.2); d > HopSeconds {
		t.Errorf("boundary = %f, want within %f of 0.2", cues[0].End, HopSeconds)
	}
	if cues[0].Start != 0 || math.Abs(cues[1].End-0.4) > 1e-9 {
		t.Errorf("span = [%f, %f], want [0, 0.4]", cues[0].Start, cues[1].End)
	}
	for _, c := range cues {
		if c.Duration() <= MinCueSeconds {
			t.Errorf("cue %+v shorter than filter", c)
		}
	}
}

func TestSegmentStaircase(t *testing.T) {
	samples := concat(
		constant(0.3, 0.15),
		constant(0.3, 0.10),
		constant(0.3, 0.06),
		constant(0.3, 0.03),
		constant(0.3, 0),
	)
	cues, err := Segment(samples, rate)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	var got []Viseme
	for _, c := range cues {
		got = append(got, c.Value)
	}
	want := []Viseme{VisemeA, VisemeF, VisemeE, VisemeC, VisemeX}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("visemes = %v, want %v", got, want)
	}
}

func TestSegmentOrderingInvariants(t *testing.T) {
	samples := make([]float32, 3*rate)
	for i := range samples {
		env := 0.5 * (1 + math.Sin(2*math.Pi*1.7*float64(i)/rate))
		samples[i] = float32(0.3 * env * math.Sin(2*math.Pi*220*float64(i)/rate))
	}
	cues, err := Segment(samples, rate)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if len(cues) == 0 {
		t.Fatal("expected cues")
	}
	duration := float64(len(samples)) / rate
	for i, c := range cues {
		if c.Start < 0 || c.End <= c.Start || c.End > duration+1e-9 {
			t.Errorf("cue %d has invalid span %+v", i, c)
		}
		if c.Duration() <= MinCueSeconds {
			t.Errorf("cue %d shorter than filter: %+v", i, c)
		}
		if i > 0 && c.Start < cues[i-1].End {
			t.Errorf("cue %d overlaps previous: %+v vs %+v", i, c, cues[i-1])
		}
	}

	// Before filtering, runs tile the whole buffer.
	all := windowRuns(samples, rate)
	if all[0].Start != 0 || all[len(all)-1].End != duration {
		t.Fatalf("runs span [%v, %v], want [0, %v]", all[0].Start, all[len(all)-1].End, duration)
	}
	var survivors []MouthCue
	kept := make([]bool, len(all))
	for i, r := range all {
		if i > 0 && r.Start != all[i-1].End {
			t.Fatalf("run %d starts at %v, previous ends at %v", i, r.Start, all[i-1].End)
		}
		if r.Duration() > MinCueSeconds {
			kept[i] = true
			survivors = append(survivors, r)
		}
	}
	if !reflect.DeepEqual(cues, survivors) {
		t.Fatalf("cues = %+v, want runs longer than %vs: %+v", cues, MinCueSeconds, survivors)
	}

	if kept[0] && cues[0].Start != 0 {
		t.Errorf("first cue starts at %v, want 0", cues[0].Start)
	}
	if kept[len(all)-1] && cues[len(cues)-1].End != duration {
		t.Errorf("last cue ends at %v, want %v", cues[len(cues)-1].End, duration)
	}
	for i, j := 0, 0; i+1 < len(all); i++ {
		if !kept[i] {
			continue
		}
		if kept[i+1] && cues[j+1].Start != cues[j].End {
			t.Errorf("cues %d and %d should abut: %+v, %+v", j, j+1, cues[j], cues[j+1])
		}
		j++
	}

	again, _ := Segment(samples, rate)
	if !reflect.DeepEqual(cues, again) {
		t.Error("Segment is not deterministic")
	}
}

// windowRuns maps every hop window to a viseme and merges equal neighbours,
// without dropping short runs.
func windowRuns(samples []float32, sampleRate int) []MouthCue {
	frame := int(float64(sampleRate) * FrameSeconds)
	hop := int(float64(sampleRate) * HopSeconds)
	var runs []MouthCue
	for i := 0; i < len(samples); i += hop {
		v := VisemeForRMS(rms(samples[i:min(i+frame, len(samples))]))
		t := float64(i) / float64(sampleRate)
		n := len(runs)
		if n > 0 && runs[n-1].Value == v {
			continue
		}
		if n > 0 {
			runs[n-1].End = t
		}
		runs = append(runs, MouthCue{Start: t, Value: v})
	}
	runs[len(runs)-1].End = float64(len(samples)) / float64(sampleRate)
	return runs
}

func TestSegmentTinySampleRate(t *testing.T) {
	// frame and hop both clamp to one sample
	cues, err := Segment([]float32{0, 0, 0, 0.5, 0.5, 0.5}, 10)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	want := []MouthCue{
		{Start: 0, End: 0.3, Value: VisemeX},
		{Start: 0.3, End: 0.6, Value: VisemeA},
	}
	if len(cues) != len(want) {
		t.Fatalf("cues = %+v, want %+v", cues, want)
	}
	for i := range want {
		if cues[i].Value != want[i].Value ||
			math.Abs(cues[i].Start-want[i].Start) > 1e-9 ||
			math.Abs(cues[i].End-want[i].End) > 1e-9 {
			t.Errorf("cue %d = %+v, want %+v", i, cues[i], want[i])
		}
	}
}

func TestSegmentInvalidRate(t *testing.T) {
	_, err := Segment([]float32{0}, 0)
	if !apperrors.IsKind(err, apperrors.DecodeFailure) {
		t.Errorf("error = %v, want DecodeFailure", err)
	}
}

func TestSegmentWAV(t *testing.T) {
	pcm := audio.Float32ToPCM16(concat(constant(0.2, 0.5), constant(0.2, 0)))
	data, err := audio.EncodeWAV(pcm, rate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	cues, err := SegmentWAV(data)
	if err != nil {
		t.Fatalf("SegmentWAV failed: %v", err)
	}
	if len(cues) != 2 || cues[0].Value != VisemeA || cues[1].Value != VisemeX {
		t.Errorf("cues = %+v, want A then X", cues)
	}

	if _, err := SegmentWAV([]byte("not audio at all")); !apperrors.IsKind(err, apperrors.DecodeFailure) {
		t.Errorf("SegmentWAV(garbage) error = %v, want DecodeFailure", err)
	}
}
