package orchestration

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-stage/core/agents"
	"github.com/koscakluka/ema-stage/core/conversations"
	"github.com/koscakluka/ema-stage/core/events"
	"github.com/koscakluka/ema-stage/core/markers"
	"github.com/koscakluka/ema-stage/core/transport"
)

const serverErrorText = "Server error."

func (o *Orchestrator) handleStatus(status transport.Status) {
	o.emit(events.NewTransportStatusChanged(status.String()))

	switch status {
	case transport.StatusAuthenticated:
		if o.mode == ModeProvider {
			o.ensureSession()
		}
	case transport.StatusDisconnected:
		// A late notification for an older connection must not undo the
		// handshake already queued for the next one.
		if o.transport.Status() == transport.StatusDisconnected {
			o.sessionStarted = false
		}
		if t := o.turn; t != nil && t.mode == ModeProvider {
			o.completeTurn(t, "")
		}
	}
}

func (o *Orchestrator) handleEnvelope(env transport.Envelope) {
	switch env.Type {
	case transport.TypeSessionReady, transport.TypeSessionStarted:
		o.emit(events.NewSessionReady(o.sessionID))
		return
	case transport.TypeAuthenticated:
		return
	}

	if o.mode != ModeProvider {
		logger.Debug("ignored provider event in agent mode", "type", env.Type)
		return
	}

	switch env.Type {
	case transport.TypeChatDelta:
		text := env.String("text", "delta")
		if text == "" {
			return
		}
		o.providerTurn()
		o.parser.Consume(text)

	case transport.TypeChatComplete:
		if o.turn == nil || o.turn.mode != ModeProvider {
			logger.Debug("ignored chat completion without an open turn")
			return
		}
		o.completeTurn(o.turn, env.String("text", "final"))

	case transport.TypeAssistantMessage:
		o.handleAssistantMessage(env.String("message"))

	case transport.TypeToolCall:
		payload, err := transport.Decode[transport.ToolCallPayload](env)
		if err != nil || payload.Name() == "" {
			logger.Warn("ignored malformed tool call", "error", err)
			return
		}
		o.handleToolCall(conversations.ToolCall{ID: payload.ID, Name: payload.Name(), Args: payload.Args})

	case transport.TypeToolResult:
		payload, err := transport.Decode[transport.ToolResultPayload](env)
		if err != nil || payload.CallID() == "" {
			logger.Warn("ignored malformed tool result", "error", err)
			return
		}
		o.handleToolResult(payload.CallID(), payload.Result)

	case transport.TypeError:
		message := env.String("message")
		if message == "" {
			message = serverErrorText
		}
		o.failTurn(o.turn, message)

	default:
		logger.Debug("ignored unknown provider event", "type", env.Type)
	}
}

// providerTurn returns the open provider turn, opening one when the server
// streams a reply nobody asked for.
func (o *Orchestrator) providerTurn() *turn {
	if o.turn != nil && o.turn.mode == ModeProvider {
		return o.turn
	}
	return o.openTurn(ModeProvider)
}

// handleAssistantMessage adds a complete assistant message sent outside any
// streamed reply. Its directives are dispatched before it is appended.
func (o *Orchestrator) handleAssistantMessage(text string) {
	literal, specials := markers.Strip(text)
	for _, tag := range specials {
		o.emit(events.NewAssistantActionToken(tag))
	}
	if literal == "" {
		return
	}

	msg := o.newMessage(conversations.RoleAssistant, literal)
	msg.Slices = []conversations.Slice{{Type: conversations.SliceText, Text: literal}}
	o.appendMessage(msg)
	o.emit(events.NewAssistantResponseFinal(msg))
}

func (o *Orchestrator) handleToolCall(call conversations.ToolCall) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	o.providerTurn()
	o.mu.Lock()
	o.streaming.AppendToolCall(call)
	o.mu.Unlock()
	o.emit(events.NewToolCallStarted(call.ID, call.Name, call.Args))
}

func (o *Orchestrator) handleToolResult(id string, result any) {
	result = normalizeToolResult(result)
	o.providerTurn()
	o.mu.Lock()
	o.streaming.AppendToolResult(id, result)
	o.mu.Unlock()
	o.emit(events.NewToolCallCompleted(id, result))
}

// normalizeToolResult keeps strings and lists as they are and renders any
// other value as JSON text.
func normalizeToolResult(result any) any {
	switch result.(type) {
	case nil, string, []any:
		return result
	}
	raw, err := json.Marshal(result)
	if err != nil {
		logger.Warn("failed to encode tool result", "error", err)
		return ""
	}
	return string(raw)
}

func (o *Orchestrator) handleAgentEvent(h *agentHandle, event agents.Event) {
	t := h.turn

	switch event.Name {
	case agents.EventConversationID:
		id := event.ConversationID()
		if id == "" {
			return
		}
		if err := o.store.SetConversationID(h.ctx, o.sessionID, h.engine, id); err != nil {
			t.span.RecordError(err)
			logger.ErrorContext(h.ctx, "failed to store conversation id", "engine", h.engine, "error", err)
		}

	case agents.EventCapabilities, agents.EventAgentCapabilities:
		supported, ok := event.ActionTokensSupported()
		if !ok {
			return
		}
		o.actionSupport[h.engine] = supported
		if !t.finalized {
			t.expectTokens = o.expectActionTokens(ModeAgent, h.engine)
		}

	case agents.EventMessageDelta:
		if t.finalized {
			return
		}
		if text := event.Text(); text != "" {
			o.parser.Consume(text)
		}

	case agents.EventMessageDone:
		o.completeTurn(t, event.Text())

	case agents.EventError:
		o.failTurn(t, event.ErrorMessage())

	default:
		logger.DebugContext(h.ctx, "ignored unknown agent event", "event", event.Name)
	}
}
