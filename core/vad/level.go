package vad

import "github.com/koscakluka/ema-stage/core/audio"

const levelGain = 160

// Level converts a PCM16 chunk to a 0..100 meter reading.
func Level(pcm []byte) int {
	return min(100, int(audio.RMS(pcm)*levelGain))
}
