package vad

import (
	"testing"
	"time"

	"github.com/koscakluka/ema-stage/core/audio"
)

// chunk returns 10ms of 16kHz audio at a constant amplitude.
func chunk(amplitude int16) []byte {
	samples := make([]int16, 160)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return audio.Int16ToBytes(samples)
}

const (
	loud  int16 = 8000
	quiet int16 = 50
)

func TestDetector(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []int16
		expected []EventType
	}{
		{
			name:     "silence stays silent",
			chunks:   []int16{quiet, quiet, quiet},
			expected: []EventType{EventNone, EventNone, EventNone},
		},
		{
			name:     "short blip is a misfire",
			chunks:   []int16{loud, loud, quiet, quiet},
			expected: []EventType{EventNone, EventNone, EventNone, EventNone},
		},
		{
			name:   "speech starts after minimum run and ends after redemption",
			chunks: []int16{loud, loud, loud, loud, quiet, quiet, quiet},
			expected: []EventType{
				EventNone, EventNone, EventSpeechStart, EventNone,
				EventNone, EventNone, EventSpeechEnd,
			},
		},
		{
			name:   "brief dip does not end speech",
			chunks: []int16{loud, loud, loud, quiet, loud, quiet, quiet},
			expected: []EventType{
				EventNone, EventNone, EventSpeechStart, EventNone,
				EventNone, EventNone, EventNone,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(audio.GetDefaultEncodingInfo(), WithRedemption(30*time.Millisecond))
			for i, amplitude := range tt.chunks {
				if got := d.Process(chunk(amplitude)); got != tt.expected[i] {
					t.Fatalf("chunk %d: expected %s, got %s", i, tt.expected[i], got)
				}
			}
		})
	}
}

func TestLevel(t *testing.T) {
	if got := Level(chunk(0)); got != 0 {
		t.Fatalf("expected silent level 0, got %d", got)
	}
	if got := Level(chunk(32767)); got != 100 {
		t.Fatalf("expected loud level to cap at 100, got %d", got)
	}
	if got := Level(chunk(205)); got != 1 {
		t.Fatalf("expected quiet level 1, got %d", got)
	}
}
