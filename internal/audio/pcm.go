package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToPCM16 converts normalized samples to signed 16-bit PCM, clipping at full scale.
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		out[i] = int16(max(-32768, min(32767, v)))
	}
	return out
}

// PCM16ToBytes serializes samples as little-endian bytes.
func PCM16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*PCM16ByteSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*PCM16ByteSize:], uint16(s))
	}
	return buf
}

// BytesToFloat32 reads little-endian PCM-16 bytes as normalized samples.
// A trailing odd byte is ignored.
func BytesToFloat32(data []byte) []float32 {
	n := len(data) / PCM16ByteSize
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*PCM16ByteSize:]))) / 32768
	}
	return out
}
