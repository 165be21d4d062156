// Package transport implements the client side of the stage event socket:
// connection lifecycle, the module authentication handshake and ordered
// outbound queueing.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-stage/internal/observers"
	"github.com/koscakluka/ema-stage/internal/serial"
	"github.com/koscakluka/ema-stage/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultModuleName = "ema:stage-cli"

	defaultHandshakeTimeout = 10 * time.Second
)

var ErrNotConnected = errors.New("transport: not connected")

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	// StatusConnected means the socket is open but the server has not yet
	// acknowledged authentication.
	StatusConnected
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Open reports whether frames can be written to the socket.
func (s Status) Open() bool {
	return s == StatusConnected || s == StatusAuthenticated
}

type SessionOption func(*Session)

func WithToken(token string) SessionOption {
	return func(s *Session) {
		s.token = token
	}
}

func WithModuleName(name string) SessionOption {
	return func(s *Session) {
		if name != "" {
			s.moduleName = name
		}
	}
}

func WithModuleIndex(index int) SessionOption {
	return func(s *Session) {
		s.moduleIndex = utils.Ptr(index)
	}
}

func WithPossibleEvents(events ...string) SessionOption {
	return func(s *Session) {
		s.possibleEvents = events
	}
}

// WithSessionID stamps every outbound envelope with sessionId.
func WithSessionID(id string) SessionOption {
	return func(s *Session) {
		s.sessionID = id
	}
}

func WithDialer(dialer *websocket.Dialer) SessionOption {
	return func(s *Session) {
		s.dialer = dialer
	}
}

// Session is a reconnectable event socket. Reconnection is always caller
// initiated: a dropped connection leaves the session disconnected.
//
// Messages sent while the socket is not open are queued and sent once it
// opens, messages sent before the server acknowledged authentication are
// queued until it does. Both queues are FIFO and are dropped by Disconnect.
type Session struct {
	url            string
	token          string
	moduleName     string
	moduleIndex    *int
	possibleEvents []string
	sessionID      string
	dialer         *websocket.Dialer

	// mu guards the connection state and is held while writing so that queue
	// flushes and direct sends cannot interleave.
	mu         sync.Mutex
	status     Status
	conn       *websocket.Conn
	generation uint64
	connQueue  []Envelope
	authQueue  []Envelope

	dispatch        serial.Queue
	eventObservers  observers.List[func(Envelope)]
	statusObservers observers.List[func(Status)]
}

func NewSession(url string, opts ...SessionOption) *Session {
	s := &Session{
		url:            url,
		moduleName:     DefaultModuleName,
		possibleEvents: DefaultPossibleEvents,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnEvent registers a handler for inbound envelopes. Handlers run one at a
// time in arrival order; the next envelope is not delivered until every
// handler for the previous one returned.
func (s *Session) OnEvent(handler func(Envelope)) (unregister func()) {
	return s.eventObservers.Add(handler)
}

// OnStatus registers a handler for status transitions. It is serialized with
// OnEvent handlers.
func (s *Session) OnStatus(handler func(Status)) (unregister func()) {
	return s.statusObservers.Add(handler)
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connect starts dialing in the background. It is a no-op unless the session
// is disconnected.
func (s *Session) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.status != StatusDisconnected {
		s.mu.Unlock()
		return
	}
	s.generation++
	generation := s.generation
	s.status = StatusConnecting
	s.mu.Unlock()

	s.publishStatus(StatusConnecting)
	go s.dial(context.WithoutCancel(ctx), generation)
}

func (s *Session) dial(ctx context.Context, generation uint64) {
	ctx, span := tracer.Start(ctx, "dial transport session")
	defer span.End()
	span.SetAttributes(attribute.String("url", s.url), attribute.Bool("authenticated", s.token != ""))

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.resetLocked()
		s.mu.Unlock()

		err = fmt.Errorf("failed to dial %s: %w", s.url, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "transport connection failed", "error", err)
		s.publishStatus(StatusDisconnected)
		return
	}

	s.conn = conn
	var openErr error
	if s.token != "" {
		s.status = StatusConnected
		openErr = s.writeLocked(ctx, s.stampLocked(Envelope{
			Type: TypeAuthenticate,
			Data: map[string]any{"token": s.token},
		}))
	} else {
		s.status = StatusAuthenticated
		openErr = s.writeLocked(ctx, s.announceLocked())
	}

	queued := s.connQueue
	s.connQueue = nil
	for _, env := range queued {
		if openErr != nil {
			break
		}
		openErr = s.routeLocked(ctx, env)
	}
	status := s.status
	s.mu.Unlock()

	if openErr != nil {
		span.RecordError(openErr)
		logger.WarnContext(ctx, "failed to write after transport opened", "error", openErr)
	}

	s.publishStatus(status)
	go s.readLoop(ctx, conn, generation)
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, generation uint64) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			s.handleClosed(ctx, generation, err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			logger.WarnContext(ctx, "received malformed transport frame", "error", err)
			s.publishEvent(invalidMessageEvent())
			continue
		}

		if env.Type == TypeAuthenticated {
			s.handleAuthenticated(ctx, generation, env)
		}
		s.publishEvent(env)
	}
}

func (s *Session) handleAuthenticated(ctx context.Context, generation uint64, env Envelope) {
	ack, err := Decode[AuthenticatedPayload](env)
	if err != nil || !ack.Authenticated {
		logger.WarnContext(ctx, "server rejected module authentication")
		return
	}

	s.mu.Lock()
	if generation != s.generation || s.status != StatusConnected {
		s.mu.Unlock()
		return
	}

	s.status = StatusAuthenticated
	writeErr := s.writeLocked(ctx, s.announceLocked())
	queued := s.authQueue
	s.authQueue = nil
	for _, queuedEnv := range queued {
		if writeErr != nil {
			break
		}
		writeErr = s.writeLocked(ctx, queuedEnv)
	}
	s.mu.Unlock()

	if writeErr != nil {
		logger.WarnContext(ctx, "failed to flush authentication queue", "error", writeErr)
	}
	s.publishStatus(StatusAuthenticated)
}

func (s *Session) handleClosed(ctx context.Context, generation uint64, err error) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.resetLocked()
	s.mu.Unlock()

	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logger.WarnContext(ctx, "transport connection lost", "error", err)
	}
	s.publishStatus(StatusDisconnected)
}

// Disconnect closes the socket and drops both outbound queues.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	wasDisconnected := s.status == StatusDisconnected
	s.resetLocked()
	s.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		if closeErr := conn.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close transport socket: %w", closeErr)
		}
	}

	if !wasDisconnected {
		s.publishStatus(StatusDisconnected)
	}
	return err
}

// Send transmits env, or queues it until the socket is open and
// authenticated. Sending on a disconnected session starts connecting.
func (s *Session) Send(ctx context.Context, env Envelope) error {
	s.mu.Lock()
	env = s.stampLocked(env)
	status := s.status
	var err error
	switch status {
	case StatusDisconnected, StatusConnecting:
		s.connQueue = append(s.connQueue, env)
		queuedCounter.Add(ctx, 1)
	default:
		err = s.routeLocked(ctx, env)
	}
	s.mu.Unlock()

	if status == StatusDisconnected {
		s.Connect(ctx)
	}
	return err
}

// SendEvent builds an envelope from payload and sends it.
func (s *Session) SendEvent(ctx context.Context, eventType string, payload any) error {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	return s.Send(ctx, env)
}

func (s *Session) routeLocked(ctx context.Context, env Envelope) error {
	if s.status == StatusConnected {
		s.authQueue = append(s.authQueue, env)
		queuedCounter.Add(ctx, 1)
		return nil
	}
	return s.writeLocked(ctx, env)
}

func (s *Session) writeLocked(ctx context.Context, env Envelope) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.WriteJSON(env); err != nil {
		// The read loop observes the broken socket and resets the session.
		_ = s.conn.Close()
		return fmt.Errorf("failed to write %s: %w", env.Type, err)
	}
	sentCounter.Add(ctx, 1)
	return nil
}

func (s *Session) stampLocked(env Envelope) Envelope {
	if env.Data == nil {
		env.Data = env.Payload
	}
	env.Payload = env.Data
	if env.SessionID == "" {
		env.SessionID = s.sessionID
	}
	if env.Source == "" {
		env.Source = s.moduleName
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.TS == 0 {
		env.TS = time.Now().UnixMilli()
	}
	return env
}

func (s *Session) announceLocked() Envelope {
	data, _ := toMap(AnnouncePayload{
		Name:           s.moduleName,
		Index:          s.moduleIndex,
		PossibleEvents: s.possibleEvents,
	})
	return s.stampLocked(Envelope{Type: TypeAnnounce, Data: data})
}

func (s *Session) resetLocked() {
	s.generation++
	s.status = StatusDisconnected
	s.conn = nil
	s.connQueue = nil
	s.authQueue = nil
}

func (s *Session) publishEvent(env Envelope) {
	s.dispatch.Push(func() {
		for _, handler := range s.eventObservers.Snapshot() {
			handler(env)
		}
	})
}

func (s *Session) publishStatus(status Status) {
	s.dispatch.Push(func() {
		for _, handler := range s.statusObservers.Snapshot() {
			handler(status)
		}
	})
}
