package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToInt16 converts samples in [-1, 1] to signed 16-bit PCM, clamping
// anything outside the range.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		s = max(-1, min(1, s))
		if s < 0 {
			out[i] = int16(math.Round(float64(s) * 0x8000))
		} else {
			out[i] = int16(math.Round(float64(s) * 0x7FFF))
		}
	}
	return out
}

// Int16ToBytes encodes samples as little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 decodes little-endian PCM. A trailing odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// RMS returns the root mean square of little-endian PCM16 audio normalized to
// [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 0x8000
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
