package audio

import (
	"bytes"
	"encoding/binary"
	"math"

	apperrors "github.com/GriffinCanCode/avatar-voice/internal/errors"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE

	wavHeaderSize = 44
)

// Buffer is a decoded single-channel signal.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int // channel count of the source; Samples holds the first one
}

// Duration returns the buffer length in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

type wavFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// DecodeWAV parses a RIFF/WAVE buffer and returns its first channel as float32 in [-1, 1].
// Integer PCM of 8/16/24/32 bits and 32-bit float are accepted. Unknown chunks are skipped.
func DecodeWAV(data []byte) (Buffer, error) {
	if len(data) < 12 {
		return Buffer{}, apperrors.Newf(apperrors.DecodeFailure, "WAV data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Buffer{}, apperrors.New(apperrors.DecodeFailure, "invalid WAV file: missing RIFF/WAVE header")
	}

	var (
		format  *wavFormat
		payload []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		switch {
		case id == "data" && (size <= 0 || end > len(data)):
			// Streaming encoders write 0 or 0xFFFFFFFF for the data size.
			end = len(data)
		case size < 0 || end > len(data):
			return Buffer{}, apperrors.Newf(apperrors.DecodeFailure, "truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Buffer{}, apperrors.Newf(apperrors.DecodeFailure, "fmt chunk too short: %d", size)
			}
			var f wavFormat
			if err := binary.Read(bytes.NewReader(data[body:body+16]), binary.LittleEndian, &f); err != nil {
				return Buffer{}, apperrors.Wrap(err, apperrors.DecodeFailure, "read fmt chunk")
			}
			if f.AudioFormat == wavFormatExtensible && size >= 26 {
				f.AudioFormat = binary.LittleEndian.Uint16(data[body+24 : body+26])
			}
			format = &f
		case "data":
			payload = data[body:end]
		}
		if payload != nil && format != nil {
			break
		}
		// chunks are word aligned
		off = end + size%2
	}

	if format == nil {
		return Buffer{}, apperrors.New(apperrors.DecodeFailure, "invalid WAV file: missing fmt chunk")
	}
	if payload == nil {
		return Buffer{}, apperrors.New(apperrors.DecodeFailure, "invalid WAV file: missing data chunk")
	}
	return decodePayload(*format, payload)
}

func decodePayload(f wavFormat, payload []byte) (Buffer, error) {
	if f.NumChannels == 0 {
		return Buffer{}, apperrors.New(apperrors.DecodeFailure, "channel count is zero")
	}
	if f.SampleRate == 0 {
		return Buffer{}, apperrors.New(apperrors.DecodeFailure, "sample rate is zero")
	}

	if f.BitsPerSample == 0 || f.BitsPerSample%8 != 0 {
		return Buffer{}, apperrors.Newf(apperrors.DecodeFailure, "unsupported bits per sample: %d", f.BitsPerSample)
	}
	width := int(f.BitsPerSample) / 8
	var sample func([]byte) float32
	switch {
	case f.AudioFormat == wavFormatPCM && width == 1:
		sample = func(b []byte) float32 { return (float32(b[0]) - 128) / 128 }
	case f.AudioFormat == wavFormatPCM && width == 2:
		sample = func(b []byte) float32 { return float32(int16(binary.LittleEndian.Uint16(b))) / 32768 }
	case f.AudioFormat == wavFormatPCM && width == 3:
		sample = func(b []byte) float32 {
			v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
			return float32(v) / 8388608
		}
	case f.AudioFormat == wavFormatPCM && width == 4:
		sample = func(b []byte) float32 { return float32(int32(binary.LittleEndian.Uint32(b))) / 2147483648 }
	case f.AudioFormat == wavFormatFloat && width == 4:
		sample = func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
	default:
		return Buffer{}, apperrors.Newf(apperrors.DecodeFailure,
			"unsupported audio format %d with %d bits per sample", f.AudioFormat, f.BitsPerSample)
	}

	frame := width * int(f.NumChannels)
	n := len(payload) / frame
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = sample(payload[i*frame:])
	}
	return Buffer{Samples: samples, SampleRate: int(f.SampleRate), Channels: int(f.NumChannels)}, nil
}

// EncodeWAV encodes mono PCM-16 samples into a WAV container.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, apperrors.Newf(apperrors.InvalidArgument, "sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, wavFormat{
		AudioFormat:   wavFormatPCM,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
	})
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "write audio data")
	}
	return buf.Bytes(), nil
}
