// Package voice turns microphone audio into transcripts: a voice activity
// detector gates capture sessions whose audio is streamed to, or recorded
// for, a transcription backend.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-stage/core/audio"
	"github.com/koscakluka/ema-stage/core/events"
	"github.com/koscakluka/ema-stage/core/speechtotext"
	"github.com/koscakluka/ema-stage/core/vad"
	"github.com/koscakluka/ema-stage/internal/serial"
)

var ErrMicrophoneUnavailable = errors.New("voice: microphone unavailable")

type State int32

const (
	StateIdle State = iota
	StateArmed
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateSpeaking:
		return "speaking"
	}
	return "idle"
}

// Microphone is a shared capture stream. *audio.Shared implements it.
type Microphone interface {
	Tap(ctx context.Context, fn func(audio []byte)) (release func() error, err error)
	EncodingInfo() audio.EncodingInfo
}

type Detector interface {
	Process(pcm []byte) vad.EventType
}

type timer interface {
	Stop() bool
}

// Pipeline owns capture sessions on a shared microphone. All state changes
// happen on its event loop; device callbacks only enqueue work.
type Pipeline struct {
	mic      Microphone
	encoding audio.EncodingInfo

	minSpeech         time.Duration
	silenceWindow     time.Duration
	frameSamples      int
	streaming         speechtotext.StreamingTranscriber
	batch             speechtotext.BatchTranscriber
	transcriptionOpts []speechtotext.TranscriptionOption
	newDetector       func(audio.EncodingInfo) Detector
	onTranscript      func(string)
	onEvent           events.Handler
	afterFunc         func(time.Duration, func()) timer

	// loop serializes every state change below.
	loop serial.Queue

	state atomic.Int32

	// generation changes on every Arm and Disarm, work queued by an older
	// generation is dropped.
	generation   uint64
	armCtx       context.Context
	armCancel    context.CancelFunc
	releaseVAD   func() error
	releaseLevel func() error
	capture      *capture
	silenceTimer timer

	finishing sync.WaitGroup
}

func NewPipeline(mic Microphone, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		mic:           mic,
		encoding:      mic.EncodingInfo(),
		minSpeech:     DefaultMinSpeech,
		silenceWindow: DefaultSilenceWindow,
		frameSamples:  audio.DefaultFrameSamples,
		newDetector: func(encoding audio.EncodingInfo) Detector {
			return vad.NewDetector(encoding)
		},
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
	if p.encoding.IsZero() {
		p.encoding = audio.GetDefaultEncodingInfo()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Arm starts voice activity detection and level metering. Audio is not
// transmitted until speech is detected. Arming an armed pipeline is a no-op.
func (p *Pipeline) Arm(ctx context.Context) error {
	var err error
	if doErr := p.loop.Do(ctx, func() { err = p.arm(ctx) }); doErr != nil {
		return doErr
	}
	return err
}

func (p *Pipeline) arm(ctx context.Context) error {
	if p.State() != StateIdle {
		return nil
	}

	p.generation++
	generation := p.generation
	p.armCtx, p.armCancel = context.WithCancel(context.WithoutCancel(ctx))

	detector := p.newDetector(p.encoding)
	releaseVAD, err := p.mic.Tap(p.armCtx, func(pcm []byte) {
		if event := detector.Process(pcm); event != vad.EventNone {
			p.loop.Push(func() { p.handleDetection(generation, event) })
		}
	})
	if err != nil {
		p.armCancel()
		logger.ErrorContext(ctx, "failed to arm voice pipeline", "error", err)
		return fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
	}

	releaseLevel, err := p.mic.Tap(p.armCtx, func(pcm []byte) {
		level := vad.Level(pcm)
		p.loop.Push(func() {
			if generation == p.generation {
				p.emit(events.NewUserAudioLevel(level))
			}
		})
	})
	if err != nil {
		p.armCancel()
		_ = releaseVAD()
		logger.ErrorContext(ctx, "failed to arm voice pipeline", "error", err)
		return fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
	}

	p.releaseVAD = releaseVAD
	p.releaseLevel = releaseLevel
	p.setState(StateArmed)
	return nil
}

// Disarm cancels any capture in flight, stops the silence timer and releases
// every tap on the microphone: capture first, then level, then detection.
func (p *Pipeline) Disarm(ctx context.Context) error {
	var err error
	if doErr := p.loop.Do(ctx, func() { err = p.disarm() }); doErr != nil {
		return doErr
	}
	return err
}

func (p *Pipeline) disarm() error {
	if p.State() == StateIdle {
		return nil
	}
	p.generation++
	p.stopSilenceTimer()

	var errs []error
	if c := p.capture; c != nil {
		p.capture = nil
		errs = append(errs, c.abort())
	}
	if p.releaseLevel != nil {
		errs = append(errs, p.releaseLevel())
		p.releaseLevel = nil
	}
	if p.releaseVAD != nil {
		errs = append(errs, p.releaseVAD())
		p.releaseVAD = nil
	}
	if p.armCancel != nil {
		p.armCancel()
	}

	p.setState(StateIdle)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to release microphone: %w", err)
	}
	return nil
}

// Close disarms and waits for captures that are still being transcribed.
func (p *Pipeline) Close(ctx context.Context) error {
	err := p.Disarm(ctx)
	p.finishing.Wait()
	return err
}

// Flush waits until everything queued on the event loop ran.
func (p *Pipeline) Flush(ctx context.Context) error {
	return p.loop.Flush(ctx)
}

func (p *Pipeline) handleDetection(generation uint64, event vad.EventType) {
	if generation != p.generation {
		return
	}

	switch event {
	case vad.EventSpeechStart:
		p.stopSilenceTimer()
		p.emit(events.NewUserSpeechStarted())
		p.setState(StateSpeaking)
		if p.capture == nil {
			p.startCapture()
		}

	case vad.EventSpeechEnd:
		p.emit(events.NewUserSpeechEnded())
		p.setState(StateArmed)
		if p.capture == nil || p.silenceTimer != nil {
			return
		}

		var t timer
		t = p.afterFunc(p.silenceWindow, func() {
			p.loop.Push(func() {
				if p.silenceTimer != t {
					return
				}
				p.silenceTimer = nil
				p.stopCapture()
			})
		})
		p.silenceTimer = t
	}
}

func (p *Pipeline) stopSilenceTimer() {
	if p.silenceTimer != nil {
		p.silenceTimer.Stop()
		p.silenceTimer = nil
	}
}

func (p *Pipeline) startCapture() {
	ctx, cancel := context.WithCancel(p.armCtx)
	c := &capture{
		generation: p.generation,
		encoding:   p.encoding,
		ctx:        ctx,
		cancel:     cancel,
	}

	if p.streaming != nil {
		stream, err := p.streaming.OpenStream(ctx, p.transcriptionOptions()...)
		if err != nil {
			logger.WarnContext(ctx, "failed to open transcription stream", "error", err)
		} else {
			c.stream = stream
			c.framer = audio.NewFramer(p.frameSamples, p.encoding)
		}
	}

	release, err := p.mic.Tap(ctx, c.write)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start capture", "error", err)
		_ = c.abort()
		return
	}
	c.release = release
	if c.stream != nil {
		go c.awaitReady()
	}

	p.capture = c
	capturesCounter.Add(ctx, 1)
}

func (p *Pipeline) stopCapture() {
	c := p.capture
	if c == nil {
		return
	}
	p.capture = nil

	if err := c.releaseTap(); err != nil {
		logger.WarnContext(c.ctx, "failed to release capture tap", "error", err)
	}

	p.finishing.Add(1)
	go func() {
		defer p.finishing.Done()
		p.finishCapture(c)
	}()
}

func (p *Pipeline) finishCapture(c *capture) {
	ctx, span := tracer.Start(c.ctx, "finish capture")
	defer span.End()
	defer c.cancel()

	pcm := c.recorded()
	duration := p.encoding.Duration(len(pcm))

	if duration < p.minSpeech {
		if c.stream != nil {
			_ = c.stream.Close()
		}
		discardedCounter.Add(ctx, 1)
		logger.DebugContext(ctx, "discarded short capture", "duration", duration)
		p.loop.Push(func() {
			if c.generation == p.generation {
				p.emit(events.NewCaptureDiscarded(duration))
			}
		})
		return
	}

	if c.stream != nil {
		result, err := c.finishStream(ctx)
		if err == nil {
			p.deliver(c, result.Text)
			return
		}
		if ctx.Err() != nil {
			return
		}
		fallbackCounter.Add(ctx, 1)
		logger.WarnContext(ctx, "streamed transcription failed, falling back to batch", "error", err)
	}

	if p.batch == nil {
		logger.WarnContext(ctx, "no batch transcriber configured, capture dropped", "duration", duration)
		return
	}
	result, err := p.batch.Transcribe(ctx, audio.EncodeWAV(pcm, p.encoding), p.transcriptionOptions()...)
	if err != nil {
		if ctx.Err() == nil {
			span.RecordError(err)
			logger.ErrorContext(ctx, "transcription failed", "error", err)
		}
		return
	}
	p.deliver(c, result.Text)
}

func (p *Pipeline) deliver(c *capture, transcript string) {
	if transcript == "" {
		return
	}
	p.loop.Push(func() {
		if c.generation != p.generation {
			return
		}
		p.emit(events.NewUserTranscriptFinal(transcript))
		if p.onTranscript != nil {
			p.onTranscript(transcript)
		}
	})
}

func (p *Pipeline) transcriptionOptions() []speechtotext.TranscriptionOption {
	return append(append([]speechtotext.TranscriptionOption{}, p.transcriptionOpts...),
		speechtotext.WithEncodingInfo(p.encoding))
}

func (p *Pipeline) setState(state State) {
	if State(p.state.Swap(int32(state))) != state {
		p.emit(events.NewVoiceStateChanged(state.String()))
	}
}

func (p *Pipeline) emit(event events.Event) {
	if p.onEvent != nil {
		p.onEvent(event)
	}
}
