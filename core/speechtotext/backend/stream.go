package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-stage/core/audio"
	"github.com/koscakluka/ema-stage/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultStreamError = "ASR stream error."

type startMessage struct {
	Type       string         `json:"type"`
	Engine     string         `json:"engine"`
	Config     map[string]any `json:"config"`
	SampleRate int            `json:"sample_rate"`
	Channels   int            `json:"channels"`
}

type controlMessage struct {
	Type string `json:"type"`
}

// OpenStream dials the streaming endpoint in the background. The returned
// stream is ready once the socket is open and the start message is written.
func (c *Client) OpenStream(ctx context.Context, opts ...speechtotext.TranscriptionOption) (speechtotext.Stream, error) {
	url, err := StreamURL(c.baseURL)
	if err != nil {
		return nil, err
	}

	options := c.options(opts)
	encoding := options.EncodingInfo
	if encoding.IsZero() {
		encoding = audio.GetDefaultEncodingInfo()
	}
	start := startMessage{
		Type:       "start",
		Engine:     options.Engine,
		Config:     options.RequestConfig(),
		SampleRate: encoding.SampleRate,
		Channels:   max(1, encoding.Channels),
	}

	s := &stream{
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.run(ctx, c.dialer, url, start)
	return s, nil
}

type stream struct {
	ready chan struct{}
	done  chan struct{}

	// mu guards the socket and the outcome, and is held while writing.
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	ended  bool
	result *speechtotext.Result
	err    error
}

func (s *stream) Ready() <-chan struct{} { return s.ready }
func (s *stream) Done() <-chan struct{}  { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) run(ctx context.Context, dialer *websocket.Dialer, url string, start startMessage) {
	conn, err := s.open(ctx, dialer, url, start)
	if err != nil {
		s.fail(err)
		return
	}
	close(s.ready)
	s.readLoop(ctx, conn)
}

func (s *stream) open(ctx context.Context, dialer *websocket.Dialer, url string, start startMessage) (*websocket.Conn, error) {
	ctx, span := tracer.Start(ctx, "open asr stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("engine", start.Engine),
		attribute.Int("sample_rate", start.SampleRate),
	)

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		err = fmt.Errorf("failed to dial asr stream: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = conn.Close()
		return nil, speechtotext.ErrClosed
	}
	if err := conn.WriteJSON(start); err != nil {
		_ = conn.Close()
		err = fmt.Errorf("failed to start asr stream: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

func (s *stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("%w: %w", speechtotext.ErrClosed, err))
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			logger.WarnContext(ctx, "received malformed asr stream message", "error", err)
			s.fail(fmt.Errorf("failed to decode asr stream message: %w", err))
			continue
		}

		switch payload["type"] {
		case "result":
			s.resolve(speechtotext.NewResult(resultBody(payload)))
		case "error":
			message, _ := payload["error"].(string)
			if message == "" {
				message = defaultStreamError
			}
			s.fail(errors.New(message))
		}
	}
}

func resultBody(payload map[string]any) map[string]any {
	if data, ok := payload["data"].(map[string]any); ok {
		return data
	}
	if data, ok := payload["payload"].(map[string]any); ok {
		return data
	}
	return payload
}

func (s *stream) SendAudio(pcm []byte) error {
	select {
	case <-s.ready:
	default:
		return speechtotext.ErrNotReady
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return speechtotext.ErrClosed
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("failed to send audio frame: %w", err)
	}
	framesCounter.Add(context.Background(), 1)
	return nil
}

// Finish sends stop and waits for the result. A stream that never became
// ready fails immediately.
func (s *stream) Finish(ctx context.Context) (speechtotext.Result, error) {
	ctx, span := tracer.Start(ctx, "finish asr stream")
	defer span.End()

	select {
	case <-s.ready:
	default:
		select {
		case <-s.done:
			return s.outcome()
		default:
			return speechtotext.Result{}, speechtotext.ErrNotReady
		}
	}

	s.mu.Lock()
	if !s.closed && !s.ended && s.conn != nil {
		if err := s.conn.WriteJSON(controlMessage{Type: "stop"}); err != nil {
			s.mu.Unlock()
			err = fmt.Errorf("failed to stop asr stream: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return speechtotext.Result{}, err
		}
	}
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		return speechtotext.Result{}, ctx.Err()
	}

	result, err := s.outcome()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.endLocked(nil, speechtotext.ErrClosed)

	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close asr stream: %w", err)
	}
	return nil
}

func (s *stream) outcome() (speechtotext.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return *s.result, nil
	}
	if s.err != nil {
		return speechtotext.Result{}, s.err
	}
	return speechtotext.Result{}, speechtotext.ErrNoResult
}

func (s *stream) resolve(result speechtotext.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(&result, nil)
}

func (s *stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(nil, err)
}

// endLocked records the first outcome only.
func (s *stream) endLocked(result *speechtotext.Result, err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.result = result
	s.err = err
	close(s.done)
}
