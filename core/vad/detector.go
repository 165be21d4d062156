// Package vad classifies microphone audio into speech and silence.
package vad

import (
	"math"
	"time"

	"github.com/koscakluka/ema-stage/core/audio"
)

const (
	DefaultPositiveThreshold = 0.5
	DefaultNegativeThreshold = 0.35
	DefaultMinSpeech         = 30 * time.Millisecond
	DefaultRedemption        = 150 * time.Millisecond

	// referenceRMS is the level that maps to a speech score of 1. Ordinary
	// speech close to a laptop microphone sits around -26 dBFS.
	referenceRMS = 0.05
)

type EventType int

const (
	EventNone EventType = iota
	EventSpeechStart
	EventSpeechEnd
)

func (e EventType) String() string {
	switch e {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	}
	return "none"
}

type DetectorOption func(*Detector)

// WithThresholds sets the score needed to enter speech and the score below
// which audio counts as silence again. The gap between them is hysteresis.
func WithThresholds(positive, negative float64) DetectorOption {
	return func(d *Detector) {
		d.positiveThreshold = positive
		d.negativeThreshold = min(negative, positive)
	}
}

// WithMinSpeech sets how long the score must stay above the positive
// threshold before speech is reported.
func WithMinSpeech(duration time.Duration) DetectorOption {
	return func(d *Detector) {
		d.minSpeech = duration
	}
}

// WithRedemption sets how long the score must stay below the negative
// threshold before speech is reported as ended.
func WithRedemption(duration time.Duration) DetectorOption {
	return func(d *Detector) {
		d.redemption = duration
	}
}

// Detector is an energy based voice activity detector. Durations are
// measured in audio time, so results only depend on the samples fed in.
//
// Detector is not safe for concurrent use.
type Detector struct {
	positiveThreshold float64
	negativeThreshold float64
	minSpeech         time.Duration
	redemption        time.Duration

	encoding audio.EncodingInfo

	speaking  bool
	speechRun time.Duration
	silentRun time.Duration
}

func NewDetector(encoding audio.EncodingInfo, opts ...DetectorOption) *Detector {
	d := &Detector{
		positiveThreshold: DefaultPositiveThreshold,
		negativeThreshold: DefaultNegativeThreshold,
		minSpeech:         DefaultMinSpeech,
		redemption:        DefaultRedemption,
		encoding:          encoding,
	}
	if d.encoding.IsZero() {
		d.encoding = audio.GetDefaultEncodingInfo()
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Score maps a PCM16 chunk to a speech likelihood in [0, 1].
func Score(pcm []byte) float64 {
	return math.Min(1, audio.RMS(pcm)/referenceRMS)
}

// Process feeds one chunk of PCM16 audio and reports a transition, if the
// chunk caused one.
func (d *Detector) Process(pcm []byte) EventType {
	duration := d.encoding.Duration(len(pcm))
	score := Score(pcm)

	if !d.speaking {
		if score >= d.positiveThreshold {
			d.speechRun += duration
		} else {
			d.speechRun = 0
		}
		if d.speechRun > 0 && d.speechRun >= d.minSpeech {
			d.speaking = true
			d.silentRun = 0
			return EventSpeechStart
		}
		return EventNone
	}

	if score < d.negativeThreshold {
		d.silentRun += duration
	} else {
		d.silentRun = 0
	}
	if d.silentRun >= d.redemption {
		d.speaking = false
		d.speechRun = 0
		d.silentRun = 0
		return EventSpeechEnd
	}
	return EventNone
}

func (d *Detector) Speaking() bool {
	return d.speaking
}

func (d *Detector) Reset() {
	d.speaking = false
	d.speechRun = 0
	d.silentRun = 0
}
