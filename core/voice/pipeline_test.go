package voice

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-stage/core/audio"
	"github.com/koscakluka/ema-stage/core/events"
	"github.com/koscakluka/ema-stage/core/speechtotext"
	"github.com/koscakluka/ema-stage/core/vad"
)

const (
	markerStart byte = 0xA1
	markerEnd   byte = 0xA2
)

// markerDetector reports speech transitions for chunks starting with a
// marker byte.
type markerDetector struct{}

func (markerDetector) Process(pcm []byte) vad.EventType {
	if len(pcm) == 0 {
		return vad.EventNone
	}
	switch pcm[0] {
	case markerStart:
		return vad.EventSpeechStart
	case markerEnd:
		return vad.EventSpeechEnd
	}
	return vad.EventNone
}

type fakeMic struct {
	mu       sync.Mutex
	taps     map[int]func([]byte)
	next     int
	released []int
	tapErr   error
}

func newFakeMic() *fakeMic {
	return &fakeMic{taps: map[int]func([]byte){}}
}

func (m *fakeMic) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (m *fakeMic) Tap(_ context.Context, fn func([]byte)) (func() error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tapErr != nil {
		return nil, m.tapErr
	}

	id := m.next
	m.next++
	m.taps[id] = fn
	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.taps, id)
		m.released = append(m.released, id)
		return nil
	}, nil
}

func (m *fakeMic) emit(pcm []byte) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.taps))
	for id := range m.taps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func([]byte), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.taps[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(pcm)
	}
}

func (m *fakeMic) releases() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.released)
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(d time.Duration, fn func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) timer(t *testing.T, i int) *fakeTimer {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.timers) {
		t.Fatalf("expected timer %d to be started, got %d timers", i, len(c.timers))
	}
	return c.timers[i]
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type fakeBatch struct {
	calls atomic.Int32
	wavs  chan []byte
	text  string
}

func (b *fakeBatch) Transcribe(_ context.Context, wav []byte, _ ...speechtotext.TranscriptionOption) (speechtotext.Result, error) {
	b.calls.Add(1)
	b.wavs <- wav
	return speechtotext.Result{Text: b.text}, nil
}

type fakeStream struct {
	ready chan struct{}
	done  chan struct{}

	mu       sync.Mutex
	frames   [][]byte
	finished int
	late     int

	result    speechtotext.Result
	finishErr error
	closed    atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ready: make(chan struct{}), done: make(chan struct{})}
}

func (s *fakeStream) Ready() <-chan struct{} { return s.ready }
func (s *fakeStream) Done() <-chan struct{}  { return s.done }
func (s *fakeStream) Err() error             { return nil }

func (s *fakeStream) SendAudio(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished > 0 {
		s.late++
	}
	s.frames = append(s.frames, bytes.Clone(frame))
	return nil
}

func (s *fakeStream) Finish(context.Context) (speechtotext.Result, error) {
	s.mu.Lock()
	s.finished++
	s.mu.Unlock()
	return s.result, s.finishErr
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeStream) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.frames)
}

type fakeStreaming struct {
	stream *fakeStream
	opened atomic.Int32
}

func (f *fakeStreaming) OpenStream(context.Context, ...speechtotext.TranscriptionOption) (speechtotext.Stream, error) {
	f.opened.Add(1)
	return f.stream, nil
}

type harness struct {
	t           *testing.T
	mic         *fakeMic
	clock       *fakeClock
	batch       *fakeBatch
	pipeline    *Pipeline
	transcripts chan string
	discarded   chan time.Duration
}

func newHarness(t *testing.T, opts ...PipelineOption) *harness {
	t.Helper()

	h := &harness{
		t:           t,
		mic:         newFakeMic(),
		clock:       &fakeClock{},
		batch:       &fakeBatch{wavs: make(chan []byte, 4), text: "batch text"},
		transcripts: make(chan string, 4),
		discarded:   make(chan time.Duration, 4),
	}
	base := []PipelineOption{
		WithBatch(h.batch),
		WithDetector(func(audio.EncodingInfo) Detector { return markerDetector{} }),
		WithTranscriptHandler(func(transcript string) { h.transcripts <- transcript }),
		WithEventHandler(func(event events.Event) {
			if discarded, ok := event.(events.CaptureDiscarded); ok {
				h.discarded <- discarded.Duration
			}
		}),
	}
	h.pipeline = NewPipeline(h.mic, append(base, opts...)...)
	h.pipeline.afterFunc = h.clock.afterFunc

	if err := h.pipeline.Arm(context.Background()); err != nil {
		t.Fatalf("expected pipeline to arm, got %v", err)
	}
	t.Cleanup(func() { _ = h.pipeline.Close(context.Background()) })
	return h
}

func (h *harness) flush() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pipeline.Flush(ctx); err != nil {
		h.t.Fatalf("expected event loop to drain, got %v", err)
	}
}

func (h *harness) speechStart() {
	h.mic.emit([]byte{markerStart, 0})
	h.flush()
}

func (h *harness) speechEnd() {
	h.mic.emit([]byte{markerEnd, 0})
	h.flush()
}

func (h *harness) fire(i int) {
	h.clock.timer(h.t, i).fn()
	h.flush()
}

func (h *harness) capturing() bool {
	var active bool
	_ = h.pipeline.loop.Do(context.Background(), func() { active = h.pipeline.capture != nil })
	return active
}

func (h *harness) transcript() string {
	h.t.Helper()
	select {
	case transcript := <-h.transcripts:
		return transcript
	case <-time.After(2 * time.Second):
		h.t.Fatalf("expected a transcript")
		return ""
	}
}

func filled(value byte, n int) []byte {
	return bytes.Repeat([]byte{value}, n)
}

// speech returns d of audio at the default 16kHz mono PCM16 encoding.
func speech(d time.Duration) []byte {
	return filled(1, int(d/time.Millisecond)*32)
}

func TestPipelineOptionFloors(t *testing.T) {
	p := NewPipeline(newFakeMic(), WithMinSpeech(10*time.Millisecond), WithSilenceWindow(0))
	if p.minSpeech != 100*time.Millisecond {
		t.Fatalf("expected min speech floor of 100ms, got %s", p.minSpeech)
	}
	if p.silenceWindow != DefaultSilenceWindow {
		t.Fatalf("expected default silence window, got %s", p.silenceWindow)
	}

	p = NewPipeline(newFakeMic(), WithSilenceWindow(50*time.Millisecond))
	if p.silenceWindow != 200*time.Millisecond || p.minSpeech != DefaultMinSpeech {
		t.Fatalf("expected silence floor and default min speech, got %s %s", p.silenceWindow, p.minSpeech)
	}
}

func TestPipelineDebounceKeepsCaptureAcrossPauses(t *testing.T) {
	h := newHarness(t)

	h.speechStart()
	if h.pipeline.State() != StateSpeaking || !h.capturing() {
		t.Fatalf("expected capture to start on speech, got state %s", h.pipeline.State())
	}
	h.mic.emit(speech(400 * time.Millisecond))

	h.speechEnd()
	if h.clock.count() != 1 || h.clock.timer(t, 0).d != DefaultSilenceWindow {
		t.Fatalf("expected one silence timer of %s", DefaultSilenceWindow)
	}

	h.speechStart()
	if !h.clock.timer(t, 0).stopped.Load() {
		t.Fatalf("expected silence timer to be cancelled when speech resumed")
	}

	// The cancelled timer firing late must not stop the capture.
	h.fire(0)
	if !h.capturing() {
		t.Fatalf("expected capture to continue after a short pause")
	}

	h.speechEnd()
	h.fire(1)
	if h.capturing() {
		t.Fatalf("expected capture to stop once the silence window elapsed")
	}
	h.fire(1)

	if got := h.transcript(); got != "batch text" {
		t.Fatalf("expected batch transcript, got %q", got)
	}
	if err := h.pipeline.Close(context.Background()); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}
	if calls := h.batch.calls.Load(); calls != 1 {
		t.Fatalf("expected exactly one transcription request, got %d", calls)
	}
}

func TestPipelineDiscardsShortCaptures(t *testing.T) {
	h := newHarness(t)

	h.speechStart()
	h.mic.emit(speech(50 * time.Millisecond))
	h.speechEnd()
	h.fire(0)

	select {
	case d := <-h.discarded:
		if d >= DefaultMinSpeech {
			t.Fatalf("expected a short capture, got %s", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected capture to be discarded")
	}
	if err := h.pipeline.Close(context.Background()); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}
	if calls := h.batch.calls.Load(); calls != 0 {
		t.Fatalf("expected no transcription request, got %d", calls)
	}
}

func TestPipelineBuffersFramesUntilStreamIsReady(t *testing.T) {
	stream := newFakeStream()
	stream.result = speechtotext.Result{Text: "streamed"}
	streaming := &fakeStreaming{stream: stream}
	h := newHarness(t, WithStreaming(streaming), WithFrameSamples(4))

	h.speechStart()
	for value := byte(1); value <= 3; value++ {
		h.mic.emit(filled(value, 8))
	}
	if sent := stream.sent(); len(sent) != 0 {
		t.Fatalf("expected frames to be buffered before the stream is ready, got %d", len(sent))
	}

	close(stream.ready)
	h.mic.emit(filled(4, 9600))
	h.speechEnd()
	h.fire(0)

	if got := h.transcript(); got != "streamed" {
		t.Fatalf("expected streamed transcript, got %q", got)
	}

	sent := stream.sent()
	for i := range 3 {
		if !bytes.Equal(sent[i], filled(byte(i+1), 8)) {
			t.Fatalf("expected buffered frame %d to be flushed in order, got %v", i, sent[i])
		}
	}
	total := 0
	for _, frame := range sent {
		total += len(frame)
	}
	if total != 24+9600+2 {
		t.Fatalf("expected every captured byte to be streamed, got %d", total)
	}
	if streaming.opened.Load() != 1 || !stream.closed.Load() {
		t.Fatalf("expected one stream opened and closed")
	}
	if calls := h.batch.calls.Load(); calls != 0 {
		t.Fatalf("expected no batch request, got %d", calls)
	}
}

func TestPipelineFallsBackToBatch(t *testing.T) {
	stream := newFakeStream()
	close(stream.ready)
	stream.finishErr = errors.New("stream broke")
	h := newHarness(t, WithStreaming(&fakeStreaming{stream: stream}))

	h.speechStart()
	h.mic.emit(speech(400 * time.Millisecond))
	h.speechEnd()
	h.fire(0)

	if got := h.transcript(); got != "batch text" {
		t.Fatalf("expected fallback transcript, got %q", got)
	}
	wav := <-h.batch.wavs
	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Fatalf("expected a wav payload, got %q", wav[:min(len(wav), 4)])
	}
	if calls := h.batch.calls.Load(); calls != 1 {
		t.Fatalf("expected one batch request, got %d", calls)
	}
}

func TestPipelineArmFailsWithoutMicrophone(t *testing.T) {
	mic := newFakeMic()
	mic.tapErr = audio.ErrDeviceUnavailable
	p := NewPipeline(mic)

	err := p.Arm(context.Background())
	if !errors.Is(err, ErrMicrophoneUnavailable) || !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrMicrophoneUnavailable, got %v", err)
	}
	if p.State() != StateIdle {
		t.Fatalf("expected pipeline to stay idle, got %s", p.State())
	}
}

func TestPipelineDisarmReleasesTapsInOrder(t *testing.T) {
	h := newHarness(t)

	h.speechStart()
	h.mic.emit(speech(400 * time.Millisecond))

	if err := h.pipeline.Disarm(context.Background()); err != nil {
		t.Fatalf("expected clean disarm, got %v", err)
	}
	// Taps were attached as detector, level, capture.
	if got := h.mic.releases(); !slices.Equal(got, []int{2, 1, 0}) {
		t.Fatalf("expected capture, level, detector release order, got %v", got)
	}
	if h.pipeline.State() != StateIdle {
		t.Fatalf("expected idle after disarm, got %s", h.pipeline.State())
	}
	if h.clock.count() != 0 || h.batch.calls.Load() != 0 {
		t.Fatalf("expected the cancelled capture to never be transcribed")
	}

	if err := h.pipeline.Arm(context.Background()); err != nil {
		t.Fatalf("expected re-arm to succeed, got %v", err)
	}
	if h.pipeline.State() != StateArmed {
		t.Fatalf("expected armed, got %s", h.pipeline.State())
	}
}

func newStreamCapture(stream *fakeStream) *capture {
	ctx, cancel := context.WithCancel(context.Background())
	return &capture{
		encoding: audio.GetDefaultEncodingInfo(),
		ctx:      ctx,
		cancel:   cancel,
		stream:   stream,
		framer:   audio.NewFramer(4, audio.GetDefaultEncodingInfo()),
	}
}

func TestFinishStreamSendsFramesThatBecameReadyLate(t *testing.T) {
	stream := newFakeStream()
	stream.result = speechtotext.Result{Text: "streamed"}
	c := newStreamCapture(stream)
	defer c.cancel()

	c.write(filled(1, 8))
	c.write(filled(2, 8))
	if err := c.sends.Flush(context.Background()); err != nil {
		t.Fatalf("expected frames to queue, got %v", err)
	}
	if len(stream.sent()) != 0 {
		t.Fatalf("expected frames to wait for the stream")
	}

	// Ready closes without awaitReady having had a chance to run.
	close(stream.ready)
	result, err := c.finishStream(context.Background())
	if err != nil || result.Text != "streamed" {
		t.Fatalf("expected streamed result, got %q (%v)", result.Text, err)
	}

	stream.mu.Lock()
	frames, finished, late := len(stream.frames), stream.finished, stream.late
	stream.mu.Unlock()
	if frames != 2 || finished != 1 || late != 0 {
		t.Fatalf("expected 2 frames before one stop, got frames %d finished %d late %d", frames, finished, late)
	}

	// A late awaitReady must not resend anything.
	c.sends.Push(c.markReady)
	if err := c.sends.Flush(context.Background()); err != nil {
		t.Fatalf("expected queue to drain, got %v", err)
	}
	if got := len(stream.sent()); got != 2 {
		t.Fatalf("expected no duplicate frames, got %d", got)
	}
}

func TestFinishStreamNotReadySkipsStop(t *testing.T) {
	stream := newFakeStream()
	c := newStreamCapture(stream)
	defer c.cancel()

	c.write(filled(1, 8))
	_, err := c.finishStream(context.Background())
	if !errors.Is(err, speechtotext.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	stream.mu.Lock()
	finished := stream.finished
	stream.mu.Unlock()
	if finished != 0 || len(stream.sent()) != 0 || !stream.closed.Load() {
		t.Fatalf("expected the stream to be closed without stop or audio")
	}

	close(stream.ready)
	c.sends.Push(c.markReady)
	if err := c.sends.Flush(context.Background()); err != nil {
		t.Fatalf("expected queue to drain, got %v", err)
	}
	if got := len(stream.sent()); got != 0 {
		t.Fatalf("expected dropped frames to stay dropped, got %d", got)
	}
}
