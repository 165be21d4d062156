package orchestration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-stage/core/conversations"
	"github.com/koscakluka/ema-stage/core/events"
	"github.com/koscakluka/ema-stage/core/markers"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const missingActionTokensText = "The assistant reply did not contain any action tokens."

// turn is one assistant reply. It is owned by the event loop.
type turn struct {
	id     string
	mode   Mode
	engine string

	ctx  context.Context
	span trace.Span

	expectTokens bool
	sawTokens    bool
	finalized    bool
}

// openTurn starts a new assistant reply. A reply still open is superseded:
// its partial content is dropped.
func (o *Orchestrator) openTurn(mode Mode) *turn {
	if o.turn != nil {
		o.discardTurn(o.turn)
	}

	ctx, span := tracer.Start(o.baseCtx, "assistant turn", trace.WithAttributes(
		attribute.String("turn.mode", string(mode)),
		attribute.String("turn.engine", o.engine),
	))
	t := &turn{
		id:           uuid.NewString(),
		mode:         mode,
		engine:       o.engine,
		ctx:          ctx,
		span:         span,
		expectTokens: o.expectActionTokens(mode, o.engine),
	}
	span.SetAttributes(attribute.String("turn.id", t.id))

	o.turn = t
	o.parser.Reset()
	o.mu.Lock()
	o.streaming = conversations.NewStreamingMessage(uuid.NewString())
	o.mu.Unlock()

	turnsCounter.Add(ctx, 1)
	o.emit(events.NewTurnStarted(t.id, string(mode)))
	return t
}

// finalize freezes the streamed reply into history. finalText is used when
// nothing was streamed. Only the first call for a turn has any effect; it
// reports whether this call was that one.
func (o *Orchestrator) finalize(t *turn, finalText string) bool {
	if t == nil || t.finalized {
		return false
	}
	t.finalized = true
	defer t.span.End()

	if o.turn == t {
		if o.streamingContent() == "" && finalText != "" {
			o.parser.Consume(finalText)
		}
		o.parser.End()
	}

	o.mu.Lock()
	streaming := o.streaming
	if o.turn == t {
		o.streaming = nil
	} else {
		streaming = nil
	}
	o.mu.Unlock()

	produced := false
	if streaming != nil {
		msg, err := streaming.Freeze("")
		if err != nil {
			t.span.RecordError(err)
			logger.ErrorContext(t.ctx, "failed to freeze assistant reply", "turn_id", t.id, "error", err)
		} else if msg.Content != "" || len(msg.Slices) > 0 {
			o.appendMessage(msg)
			o.emit(events.NewAssistantResponseFinal(msg))
			produced = true
		}
	}

	if produced && t.expectTokens && !t.sawTokens {
		missingTokensCounter.Add(t.ctx, 1)
		logger.WarnContext(t.ctx, "assistant reply had no action tokens", "turn_id", t.id)
		o.appendMessage(o.newMessage(conversations.RoleWarning, missingActionTokensText))
	}

	o.parser.Reset()
	if o.turn == t {
		o.turn = nil
	}
	return true
}

// completeTurn finalizes t as a successful reply.
func (o *Orchestrator) completeTurn(t *turn, finalText string) {
	if o.finalize(t, finalText) {
		o.emit(events.NewTurnCompleted(t.id))
	}
}

// failTurn finalizes what t received and reports reason as an error message.
// The error message is added even if t was already finalized.
func (o *Orchestrator) failTurn(t *turn, reason string) {
	if t != nil {
		t.span.SetStatus(codes.Error, reason)
	}
	finalized := o.finalize(t, "")
	o.appendMessage(o.newMessage(conversations.RoleError, reason))
	if finalized {
		failedTurnsCounter.Add(t.ctx, 1)
		o.emit(events.NewTurnFailed(t.id, reason))
	}
}

// discardTurn drops a superseded reply without adding it to history.
func (o *Orchestrator) discardTurn(t *turn) {
	if t.finalized {
		return
	}
	t.finalized = true
	t.span.AddEvent("superseded")
	t.span.End()

	if o.turn == t {
		o.turn = nil
		o.parser.Reset()
		o.mu.Lock()
		o.streaming = nil
		o.mu.Unlock()
	}
	o.emit(events.NewTurnCancelled(t.id))
}

// clearTurn drops the open reply, if any, without events. Used when the
// whole session changes.
func (o *Orchestrator) clearTurn() {
	if t := o.turn; t != nil {
		t.finalized = true
		t.span.End()
	}
	o.turn = nil
	o.parser.Reset()
	o.mu.Lock()
	o.streaming = nil
	o.mu.Unlock()
}

func (o *Orchestrator) newParser() *markers.Parser {
	return markers.NewParser(o.handleLiteral, o.handleSpecial)
}

func (o *Orchestrator) handleLiteral(literal string) {
	o.mu.Lock()
	if o.streaming != nil {
		o.streaming.AppendText(literal)
	}
	o.mu.Unlock()
	o.emit(events.NewAssistantResponseSegment(literal))
}

func (o *Orchestrator) handleSpecial(tag string) {
	if o.turn != nil {
		o.turn.sawTokens = true
	}
	o.emit(events.NewAssistantActionToken(tag))
}

func (o *Orchestrator) streamingContent() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.streaming == nil {
		return ""
	}
	return o.streaming.Content()
}

func (o *Orchestrator) newMessage(role conversations.Role, content string) conversations.Message {
	return conversations.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// appendMessage adds msg to history and persists it. A store failure is
// logged; the in-memory history stays authoritative for the session.
func (o *Orchestrator) appendMessage(msg conversations.Message) {
	o.mu.Lock()
	o.history = append(o.history, msg)
	o.mu.Unlock()

	if err := o.store.Append(o.baseCtx, o.sessionID, msg); err != nil {
		logger.ErrorContext(o.baseCtx, "failed to persist message", "session_id", o.sessionID, "role", msg.Role, "error", err)
	}
	o.emit(events.NewMessageAppended(msg))
}

// expectActionTokens reports whether replies in mode should carry action
// tokens. An agent engine that declared no support is not held to it.
func (o *Orchestrator) expectActionTokens(mode Mode, engine string) bool {
	if !o.actionTokens {
		return false
	}
	if mode != ModeAgent {
		return true
	}
	supported, known := o.actionSupport[engine]
	return !known || supported
}
