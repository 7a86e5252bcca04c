// Package audio holds the audio data types shared by capture, transport and lipsync:
// captured chunks, chunk encodings, and WAV/PCM conversion.
package audio

import (
	"strings"

	apperrors "github.com/GriffinCanCode/avatar-voice/internal/errors"
)

// Chunk encodings understood by the capture subsystem.
const (
	EncodingPCM = "audio/pcm" // raw little-endian PCM-16 mono
	EncodingWAV = "audio/wav" // each chunk a self-contained WAV
)

// PCM16ByteSize is the width of one PCM-16 sample.
const PCM16ByteSize = 2

// Chunk is one bounded unit of captured audio. Seq increases monotonically per capture.
type Chunk struct {
	Seq       uint64
	Data      []byte
	Timestamp int64
}

// SupportsEncoding reports whether chunks can be produced in the given MIME encoding.
// Parameters such as ";rate=16000" are ignored.
func SupportsEncoding(encoding string) bool {
	switch baseEncoding(encoding) {
	case EncodingPCM, EncodingWAV:
		return true
	default:
		return false
	}
}

// EncodeChunk serializes captured samples in the given encoding.
func EncodeChunk(encoding string, samples []float32, sampleRate int) ([]byte, error) {
	pcm := Float32ToPCM16(samples)
	switch baseEncoding(encoding) {
	case EncodingPCM:
		return PCM16ToBytes(pcm), nil
	case EncodingWAV:
		return EncodeWAV(pcm, sampleRate)
	default:
		return nil, apperrors.Newf(apperrors.EncodingUnsupported, "encoding %q is not supported", encoding)
	}
}

func baseEncoding(encoding string) string {
	base, _, _ := strings.Cut(encoding, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
