// Package orchestration drives a conversation: it sequences the session
// handshake, runs one assistant turn at a time over the event socket or an
// agent stream, and splits replies into literal text and action tokens.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-stage/core/conversations"
	"github.com/koscakluka/ema-stage/core/events"
	"github.com/koscakluka/ema-stage/core/markers"
	"github.com/koscakluka/ema-stage/core/transport"
	"github.com/koscakluka/ema-stage/internal/observers"
	"github.com/koscakluka/ema-stage/internal/serial"
)

var ErrClosed = errors.New("orchestration: orchestrator closed")

// Orchestrator owns the conversation state of one chat session. Every state
// change runs on its event loop, so hooks and event handlers are called one
// at a time and may call Send without blocking.
type Orchestrator struct {
	transport Transport
	agent     AgentStreamer
	store     conversations.Store

	userID             string
	profileID          string
	provider           string
	developerPrompt    string
	actionTokens       bool
	actionTokensPrompt string
	sessionMeta        map[string]any
	engineConfig       map[string]any

	loop serial.Queue

	baseCtx    context.Context
	cancelBase context.CancelFunc
	started    bool
	closed     bool
	unregister []func()

	// Loop owned state.
	mode           Mode
	engine         string
	sessionID      string
	sessionStarted bool
	prompted       map[string]bool
	actionSupport  map[string]bool
	turn           *turn
	parser         *markers.Parser
	handle         *agentHandle

	// mu guards the snapshots read by History and Streaming, and writes to
	// sessionID.
	mu        sync.RWMutex
	history   []conversations.Message
	streaming *conversations.StreamingMessage

	streams sync.WaitGroup

	literalHooks observers.List[func(string)]
	specialHooks observers.List[func(string)]
	finalHooks   observers.List[func(conversations.Message)]
	messageHooks observers.List[func(conversations.Message)]
	eventHooks   observers.List[events.Handler]
}

var _ conversations.ActiveContext = (*Orchestrator)(nil)

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		mode:          ModeProvider,
		store:         conversations.NewMemoryStore(),
		baseCtx:       context.Background(),
		prompted:      map[string]bool{},
		actionSupport: map[string]bool{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}
	o.parser = o.newParser()
	return o
}

// Start loads the session history, subscribes to the transport and, in
// provider mode, starts connecting. ctx bounds every request the
// orchestrator makes until Close.
func (o *Orchestrator) Start(ctx context.Context) error {
	var err error
	doErr := o.loop.Do(ctx, func() {
		if o.closed {
			err = ErrClosed
			return
		}
		if o.started {
			return
		}
		o.started = true
		o.baseCtx, o.cancelBase = context.WithCancel(ctx)

		if err = o.loadHistory(o.baseCtx); err != nil {
			return
		}

		if o.transport != nil {
			o.unregister = append(o.unregister,
				o.transport.OnEvent(o.receiveEnvelope),
				o.transport.OnStatus(o.receiveStatus),
			)
			if o.mode == ModeProvider {
				o.transport.Connect(o.baseCtx)
			}
		}
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Close aborts the turn in flight, disconnects the transport and waits for
// agent streams to wind down.
func (o *Orchestrator) Close() error {
	var err error
	_ = o.loop.Do(context.Background(), func() {
		if o.closed {
			return
		}
		o.closed = true
		o.abortHandle()
		o.clearTurn()
		for _, unregister := range o.unregister {
			unregister()
		}
		o.unregister = nil
		if o.transport != nil {
			if disconnectErr := o.transport.Disconnect(); disconnectErr != nil {
				err = fmt.Errorf("failed to disconnect transport: %w", disconnectErr)
			}
		}
		if o.cancelBase != nil {
			o.cancelBase()
		}
	})
	o.streams.Wait()
	return err
}

// Send starts a new user turn. Blank text is ignored. Any agent stream still
// in flight is aborted and its partial reply dropped.
func (o *Orchestrator) Send(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	o.loop.Push(func() {
		if o.closed {
			return
		}
		o.sendUserTurn(text)
	})
}

// Abort stops the reply in flight without an error message. What was
// received so far is kept as the assistant reply. In provider mode the server
// is asked to interrupt.
func (o *Orchestrator) Abort() {
	o.loop.Push(func() {
		if o.closed {
			return
		}
		if o.handle != nil {
			o.cancelAgentTurn()
			return
		}
		if t := o.turn; t != nil && t.mode == ModeProvider && o.transport != nil {
			o.abortProvider(t)
			if o.finalize(t, "") {
				o.emit(events.NewTurnCancelled(t.id))
			}
		}
	})
}

// SetMode switches between provider and agent mode for following turns.
func (o *Orchestrator) SetMode(mode Mode) {
	o.loop.Push(func() {
		if o.closed || o.mode == mode {
			return
		}
		o.cancelAgentTurn()
		o.mode = mode
		if mode == ModeProvider && o.started && o.transport != nil {
			o.transport.Connect(o.baseCtx)
		}
	})
}

// SetEngine switches the agent engine, aborting the stream of the previous
// one.
func (o *Orchestrator) SetEngine(engine string) {
	engine = strings.TrimSpace(engine)
	o.loop.Push(func() {
		if o.closed || o.engine == engine {
			return
		}
		o.cancelAgentTurn()
		o.engine = engine
	})
}

// SetSession switches to another chat session and loads its history. The
// handshake is repeated for the new session.
func (o *Orchestrator) SetSession(ctx context.Context, sessionID string) error {
	var err error
	doErr := o.loop.Do(ctx, func() {
		if o.closed {
			err = ErrClosed
			return
		}
		if sessionID == "" || sessionID == o.sessionID {
			return
		}
		o.abortHandle()
		o.clearTurn()
		o.mu.Lock()
		o.sessionID = sessionID
		o.mu.Unlock()
		o.sessionStarted = false
		o.prompted = map[string]bool{}
		err = o.loadHistory(ctx)
		if err == nil && o.mode == ModeProvider {
			o.ensureSession()
		}
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (o *Orchestrator) SessionID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sessionID
}

// Flush waits until every queued event and request has been handled.
func (o *Orchestrator) Flush(ctx context.Context) error {
	return o.loop.Flush(ctx)
}

// History returns the finalized messages of the current session.
func (o *Orchestrator) History() []conversations.Message {
	o.mu.RLock()
	defer o.mu.RUnlock()
	history := make([]conversations.Message, len(o.history))
	copy(history, o.history)
	return history
}

// Streaming returns a snapshot of the reply being streamed, or nil.
func (o *Orchestrator) Streaming() *conversations.Message {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.streaming == nil {
		return nil
	}
	msg, err := o.streaming.Freeze("")
	if err != nil {
		logger.Warn("failed to snapshot streaming message", "error", err)
		return nil
	}
	return &msg
}

func (o *Orchestrator) OnTokenLiteral(hook func(literal string)) (unregister func()) {
	return o.literalHooks.Add(hook)
}

func (o *Orchestrator) OnTokenSpecial(hook func(special string)) (unregister func()) {
	return o.specialHooks.Add(hook)
}

func (o *Orchestrator) OnAssistantFinal(hook func(msg conversations.Message)) (unregister func()) {
	return o.finalHooks.Add(hook)
}

// OnMessage is called for every message appended to history.
func (o *Orchestrator) OnMessage(hook func(msg conversations.Message)) (unregister func()) {
	return o.messageHooks.Add(hook)
}

func (o *Orchestrator) OnEvent(handler events.Handler) (unregister func()) {
	return o.eventHooks.Add(handler)
}

func (o *Orchestrator) loadHistory(ctx context.Context) error {
	history, err := o.store.Messages(ctx, o.sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", o.sessionID, err)
	}
	o.mu.Lock()
	o.history = history
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) receiveStatus(status transport.Status) {
	_ = o.loop.Do(o.baseCtx, func() { o.handleStatus(status) })
}

func (o *Orchestrator) receiveEnvelope(env transport.Envelope) {
	_ = o.loop.Do(o.baseCtx, func() { o.handleEnvelope(env) })
}
