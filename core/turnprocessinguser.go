package orchestration

import (
	"context"
	"errors"
	"strings"

	"github.com/koscakluka/ema-stage/core/agents"
	"github.com/koscakluka/ema-stage/core/conversations"
	"github.com/koscakluka/ema-stage/core/events"
	"github.com/koscakluka/ema-stage/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	agentEngineMissingText = "Agent engine not configured."
	agentMissingText       = "Agent client not configured."
	transportMissingText   = "Transport not configured."
)

// agentHandle is the cancellation handle of one agent stream. Only the
// handle stored in Orchestrator.handle may change state.
type agentHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
	engine string
	turn   *turn
}

func (o *Orchestrator) sendUserTurn(text string) {
	o.abortHandle()
	o.appendMessage(o.newMessage(conversations.RoleUser, text))

	switch o.mode {
	case ModeAgent:
		o.sendAgentTurn(text)
	default:
		o.sendProviderTurn(text)
	}
}

func (o *Orchestrator) sendProviderTurn(text string) {
	t := o.openTurn(ModeProvider)
	if o.transport == nil {
		o.failTurn(t, transportMissingText)
		return
	}

	o.ensureSession()
	env, err := transport.NewEnvelope(transport.TypeInputText, transport.InputTextPayload{
		SessionID:       o.sessionID,
		UserID:          o.userID,
		Text:            text,
		Provider:        o.provider,
		DeveloperPrompt: o.sessionPrompt(),
	})
	if err == nil {
		err = o.transport.Send(t.ctx, env)
	}
	if err != nil {
		t.span.RecordError(err)
		logger.ErrorContext(t.ctx, "failed to send user input", "turn_id", t.id, "error", err)
		o.failTurn(t, err.Error())
	}
}

// ensureSession sends session.start once per session and connection. The
// transport queues it ahead of any input sent afterwards.
func (o *Orchestrator) ensureSession() {
	if o.transport == nil {
		return
	}
	if o.transport.Status() == transport.StatusDisconnected {
		o.sessionStarted = false
	}
	if o.sessionStarted {
		return
	}

	env, err := transport.NewEnvelope(transport.TypeSessionStart, transport.SessionStartPayload{
		SessionID:       o.sessionID,
		UserID:          o.userID,
		ProfileID:       o.profileID,
		SessionMeta:     o.sessionMeta,
		DeveloperPrompt: o.sessionPrompt(),
	})
	if err == nil {
		err = o.transport.Send(o.baseCtx, env)
	}
	if err != nil {
		logger.WarnContext(o.baseCtx, "failed to start session", "session_id", o.sessionID, "error", err)
		return
	}
	o.sessionStarted = true
}

func (o *Orchestrator) sendAgentTurn(text string) {
	t := o.openTurn(ModeAgent)
	if o.engine == "" {
		o.failTurn(t, agentEngineMissingText)
		return
	}
	if o.agent == nil {
		o.failTurn(t, agentMissingText)
		return
	}

	ctx, cancel := context.WithCancel(t.ctx)
	h := &agentHandle{ctx: ctx, cancel: cancel, engine: t.engine, turn: t}
	o.handle = h

	req := agents.StreamRequest{
		Engine:    h.engine,
		Text:      text,
		SessionID: o.sessionID,
		UserID:    o.userID,
		ProfileID: o.profileID,
		Config:    o.agentConfig(ctx, h.engine),
	}

	o.streams.Add(1)
	go o.runAgent(h, req)
}

// runAgent streams one agent reply. Frames are applied on the event loop and
// dropped once h is no longer current.
func (o *Orchestrator) runAgent(h *agentHandle, req agents.StreamRequest) {
	defer o.streams.Done()

	stream := panicSafeNamedWorker("agent stream", func(ctx context.Context) error {
		return o.agent.Stream(ctx, req, func(ctx context.Context, event agents.Event) error {
			return o.loop.Do(ctx, func() {
				if o.handle != h {
					logger.DebugContext(ctx, "dropped stale agent frame", "event", event.Name, "turn_id", h.turn.id)
					return
				}
				o.handleAgentEvent(h, event)
			})
		})
	})
	err := stream(h.ctx)

	o.loop.Push(func() {
		if o.handle != h {
			return
		}
		o.handle = nil
		defer h.cancel()

		if err != nil && h.ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			h.turn.span.RecordError(err)
			logger.ErrorContext(h.ctx, "agent stream failed", "engine", h.engine, "turn_id", h.turn.id, "error", err)
			o.failTurn(h.turn, err.Error())
			return
		}
		o.completeTurn(h.turn, "")
	})
}

// abortHandle cancels the current agent stream. Its frames still queued on
// the loop are dropped by the currency check.
func (o *Orchestrator) abortHandle() {
	h := o.handle
	if h == nil {
		return
	}
	o.handle = nil
	h.cancel()
	h.turn.span.AddEvent("aborted", trace.WithAttributes(attribute.String("agent.engine", h.engine)))
}

// cancelAgentTurn aborts the current agent stream and keeps what it
// received as the reply.
func (o *Orchestrator) cancelAgentTurn() {
	h := o.handle
	if h == nil {
		return
	}
	o.abortHandle()
	if o.finalize(h.turn, "") {
		o.emit(events.NewTurnCancelled(h.turn.id))
	}
}

// abortProvider asks the server to stop the reply in flight.
func (o *Orchestrator) abortProvider(t *turn) {
	env, err := transport.NewEnvelope(transport.TypeInputInterrupt, transport.InputInterruptPayload{SessionID: o.sessionID})
	if err == nil {
		err = o.transport.Send(t.ctx, env)
	}
	if err != nil {
		t.span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(t.ctx, "failed to interrupt provider reply", "turn_id", t.id, "error", err)
	}
}

// agentConfig builds the config of an agent request: the engine config
// without blank values plus conversation continuity, action token settings
// and, on the first request of the session to engine, the developer prompt.
func (o *Orchestrator) agentConfig(ctx context.Context, engine string) map[string]any {
	config := sanitizeConfig(o.engineConfig)

	conversationID, err := o.store.ConversationID(ctx, o.sessionID, engine)
	if err != nil {
		logger.WarnContext(ctx, "failed to load conversation id", "session_id", o.sessionID, "engine", engine, "error", err)
	}
	if conversationID != "" {
		config["conversation_id"] = conversationID
	} else {
		delete(config, "conversation_id")
	}

	if o.actionTokens {
		config["action_tokens_enabled"] = true
		if o.actionTokensPrompt != "" {
			config["action_tokens_prompt"] = o.actionTokensPrompt
		}
	}

	if !o.prompted[engine] {
		if o.developerPrompt != "" {
			config["developer_prompt"] = o.developerPrompt
		}
		o.prompted[engine] = true
	}
	return config
}

// sessionPrompt is the developer prompt sent with session.start: the base
// prompt followed by the action token instructions.
func (o *Orchestrator) sessionPrompt() string {
	parts := make([]string, 0, 2)
	if o.developerPrompt != "" {
		parts = append(parts, o.developerPrompt)
	}
	if o.actionTokens && o.actionTokensPrompt != "" {
		parts = append(parts, o.actionTokensPrompt)
	}
	return strings.Join(parts, "\n\n")
}

// sanitizeConfig copies config without nil values and blank strings.
func sanitizeConfig(config map[string]any) map[string]any {
	sanitized := make(map[string]any, len(config)+4)
	for key, value := range config {
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		sanitized[key] = value
	}
	return sanitized
}
