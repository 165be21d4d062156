package voice

import (
	"time"

	"github.com/koscakluka/ema-stage/core/audio"
	"github.com/koscakluka/ema-stage/core/events"
	"github.com/koscakluka/ema-stage/core/speechtotext"
	"github.com/koscakluka/ema-stage/core/vad"
)

const (
	DefaultMinSpeech     = 300 * time.Millisecond
	DefaultSilenceWindow = 700 * time.Millisecond

	minSpeechFloor     = 100 * time.Millisecond
	silenceWindowFloor = 200 * time.Millisecond
)

type PipelineOption func(*Pipeline)

// WithMinSpeech sets the shortest capture that is transcribed. Zero keeps
// the default, anything below 100ms is raised to 100ms.
func WithMinSpeech(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d <= 0 {
			d = DefaultMinSpeech
		}
		p.minSpeech = max(minSpeechFloor, d)
	}
}

// WithSilenceWindow sets how long speech must stay ended before capture
// stops. Zero keeps the default, anything below 200ms is raised to 200ms.
func WithSilenceWindow(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d <= 0 {
			d = DefaultSilenceWindow
		}
		p.silenceWindow = max(silenceWindowFloor, d)
	}
}

// WithStreaming enables the low latency path. Without it every capture is
// recorded and transcribed in one batch request.
func WithStreaming(transcriber speechtotext.StreamingTranscriber) PipelineOption {
	return func(p *Pipeline) {
		p.streaming = transcriber
	}
}

func WithBatch(transcriber speechtotext.BatchTranscriber) PipelineOption {
	return func(p *Pipeline) {
		p.batch = transcriber
	}
}

func WithTranscriptionOptions(opts ...speechtotext.TranscriptionOption) PipelineOption {
	return func(p *Pipeline) {
		p.transcriptionOpts = append(p.transcriptionOpts, opts...)
	}
}

// WithTranscriptHandler receives every non-empty transcript, in capture
// order, on the pipeline's event loop. It must not call Arm or Disarm
// synchronously.
func WithTranscriptHandler(handler func(transcript string)) PipelineOption {
	return func(p *Pipeline) {
		p.onTranscript = handler
	}
}

// WithEventHandler receives state, speech, level and transcript events.
func WithEventHandler(handler events.Handler) PipelineOption {
	return func(p *Pipeline) {
		p.onEvent = handler
	}
}

func WithDetectorOptions(opts ...vad.DetectorOption) PipelineOption {
	return func(p *Pipeline) {
		p.newDetector = func(encoding audio.EncodingInfo) Detector {
			return vad.NewDetector(encoding, opts...)
		}
	}
}

// WithDetector replaces the energy detector. newDetector is called on every
// Arm.
func WithDetector(newDetector func(audio.EncodingInfo) Detector) PipelineOption {
	return func(p *Pipeline) {
		p.newDetector = newDetector
	}
}

// WithFrameSamples sets the streamed frame size, 2048 samples by default.
func WithFrameSamples(samples int) PipelineOption {
	return func(p *Pipeline) {
		p.frameSamples = samples
	}
}
