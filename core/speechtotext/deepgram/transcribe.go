// Package deepgram streams capture audio straight to the Deepgram listen
// API as an alternative to the stage audio backend.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-stage/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultListenURL = "wss://api.deepgram.com/v1/listen"
	DefaultModel     = "nova-3"
	DefaultLanguage  = "en-US"

	keepAliveInterval = 5 * time.Second
)

var ErrMissingAPIKey = errors.New("deepgram: api key not configured")

type TranscriberOption func(*Transcriber)

func WithAPIKey(key string) TranscriberOption {
	return func(t *Transcriber) {
		t.apiKey = key
	}
}

func WithListenURL(listenURL string) TranscriberOption {
	return func(t *Transcriber) {
		t.listenURL = listenURL
	}
}

func WithDialer(dialer *websocket.Dialer) TranscriberOption {
	return func(t *Transcriber) {
		t.dialer = dialer
	}
}

type Transcriber struct {
	apiKey    string
	listenURL string
	dialer    *websocket.Dialer
}

var _ speechtotext.StreamingTranscriber = (*Transcriber)(nil)

// NewTranscriber reads the API key from DEEPGRAM_API_KEY unless WithAPIKey
// is given.
func NewTranscriber(opts ...TranscriberOption) *Transcriber {
	t := &Transcriber{
		apiKey:    os.Getenv("DEEPGRAM_API_KEY"),
		listenURL: DefaultListenURL,
		dialer:    websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transcriber) OpenStream(ctx context.Context, opts ...speechtotext.TranscriptionOption) (speechtotext.Stream, error) {
	if t.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	options := speechtotext.NewTranscriptionOptions(opts...)
	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	listenURL, err := t.buildListenURL(*encoding, options)
	if err != nil {
		return nil, err
	}

	s := &stream{
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.run(ctx, t.dialer, listenURL, http.Header{"Authorization": {"Token " + t.apiKey}})
	return s, nil
}

func (t *Transcriber) buildListenURL(encoding encodingInfo, options speechtotext.TranscriptionOptions) (string, error) {
	listenURL, err := url.Parse(t.listenURL)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram listen url: %w", err)
	}

	model := options.Model
	if model == "" {
		model = DefaultModel
	}
	language := options.Language
	if language == "" {
		language = DefaultLanguage
	}

	query := listenURL.Query()
	query.Set("encoding", encoding.Format.Name())
	query.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	query.Set("channels", strconv.Itoa(encoding.Channels))
	query.Set("model", model)
	query.Set("language", language)
	query.Set("smart_format", "true")
	query.Set("endpointing", "300")
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}

type stream struct {
	ready chan struct{}
	done  chan struct{}

	// connMu guards the socket and is held while writing.
	connMu    sync.Mutex
	conn      *websocket.Conn
	closed    bool
	lastMsgTs time.Time

	transcriptMu          sync.Mutex
	accumulatedTranscript []string
	err                   error
}

func (s *stream) Ready() <-chan struct{} { return s.ready }
func (s *stream) Done() <-chan struct{}  { return s.done }

func (s *stream) Err() error {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()
	return s.err
}

func (s *stream) run(ctx context.Context, dialer *websocket.Dialer, listenURL string, header http.Header) {
	defer close(s.done)

	conn, err := s.connect(ctx, dialer, listenURL, header)
	if err != nil {
		s.setErr(err)
		return
	}
	close(s.ready)

	keepAliveCtx, stopKeepAlive := context.WithCancel(ctx)
	defer stopKeepAlive()
	go s.keepAlive(keepAliveCtx)

	s.readAndProcessMessages(ctx, conn)
}

func (s *stream) connect(ctx context.Context, dialer *websocket.Dialer, listenURL string, header http.Header) (*websocket.Conn, error) {
	ctx, span := tracer.Start(ctx, "open deepgram stream")
	defer span.End()

	conn, _, err := dialer.DialContext(ctx, listenURL, header)
	if err != nil {
		err = fmt.Errorf("failed to open socket connection to deepgram: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed {
		_ = conn.Close()
		return nil, speechtotext.ErrClosed
	}
	s.conn = conn
	s.lastMsgTs = time.Now()
	return conn, nil
}

func (s *stream) readAndProcessMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.setErr(fmt.Errorf("%w: %w", speechtotext.ErrClosed, err))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(ctx, msg)
		}
	}
}

func (s *stream) processMessage(ctx context.Context, msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.WarnContext(ctx, "failed to unmarshal deepgram message", "error", err)
		return
	}

	if api.TypeResponse(parsedMsg.Type) != api.TypeMessageResponse {
		return
	}

	var msgResp api.MessageResponse
	if err := json.Unmarshal(msg, &msgResp); err != nil {
		logger.WarnContext(ctx, "failed to unmarshal deepgram transcript", "error", err)
		return
	}
	if !msgResp.IsFinal || len(msgResp.Channel.Alternatives) == 0 {
		return
	}

	transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
	if transcript == "" {
		return
	}
	s.transcriptMu.Lock()
	s.accumulatedTranscript = append(s.accumulatedTranscript, transcript)
	s.transcriptMu.Unlock()
}

func (s *stream) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil && !s.closed && time.Since(s.lastMsgTs) >= keepAliveInterval {
				s.lastMsgTs = time.Now()
				if err := s.conn.WriteJSON(controlMessage{Type: "KeepAlive"}); err != nil {
					logger.WarnContext(ctx, "failed to write deepgram keep alive", "error", err)
				}
			}
			s.connMu.Unlock()
		}
	}
}

type controlMessage struct {
	Type string `json:"type"`
}

func (s *stream) SendAudio(pcm []byte) error {
	select {
	case <-s.ready:
	default:
		return speechtotext.ErrNotReady
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed || s.conn == nil {
		return speechtotext.ErrClosed
	}

	s.lastMsgTs = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("failed to write to deepgram: %w", err)
	}
	return nil
}

// Finish asks Deepgram to flush and close the stream, then returns every
// final transcript it produced joined in order.
func (s *stream) Finish(ctx context.Context) (speechtotext.Result, error) {
	ctx, span := tracer.Start(ctx, "finish deepgram stream")
	defer span.End()

	select {
	case <-s.ready:
	default:
		return speechtotext.Result{}, speechtotext.ErrNotReady
	}

	s.connMu.Lock()
	var err error
	if s.closed || s.conn == nil {
		err = speechtotext.ErrClosed
	} else if writeErr := s.conn.WriteJSON(controlMessage{Type: string(api.TypeCloseStreamResponse)}); writeErr != nil {
		err = fmt.Errorf("failed to close deepgram stream: %w", writeErr)
	}
	s.connMu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return speechtotext.Result{}, err
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return speechtotext.Result{}, ctx.Err()
	}

	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()
	if s.err != nil && len(s.accumulatedTranscript) == 0 {
		return speechtotext.Result{}, s.err
	}
	text := strings.Join(s.accumulatedTranscript, " ")
	span.SetAttributes(attribute.Int("transcript.length", len(text)))
	return speechtotext.Result{Text: text, Raw: map[string]any{"text": text}}, nil
}

func (s *stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close deepgram socket: %w", err)
	}
	return nil
}

func (s *stream) setErr(err error) {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
