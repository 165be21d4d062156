package transport

import (
	"encoding/json"
	"fmt"
)

// Event types exchanged over the session socket.
const (
	TypeAuthenticate  = "module.authenticate"
	TypeAuthenticated = "module.authenticated"
	TypeAnnounce      = "module.announce"

	TypeSessionStart   = "session.start"
	TypeSessionReady   = "session.ready"
	TypeSessionStarted = "session.started"

	TypeInputText       = "input.text"
	TypeInputVoiceStart = "input.voice.start"
	TypeInputVoiceChunk = "input.voice.chunk"
	TypeInputVoiceEnd   = "input.voice.end"
	TypeInputInterrupt  = "input.interrupt"

	TypeChatDelta        = "output.chat.delta"
	TypeChatComplete     = "output.chat.complete"
	TypeAssistantMessage = "assistant.message"
	TypeToolCall         = "tool.call"
	TypeToolResult       = "tool.result"
	TypeError            = "error"
)

const invalidMessageText = "Invalid server message."

// DefaultPossibleEvents is what a client announces it may emit.
var DefaultPossibleEvents = []string{
	TypeSessionStart,
	TypeInputText,
	TypeInputVoiceStart,
	TypeInputVoiceChunk,
	TypeInputVoiceEnd,
	TypeInputInterrupt,
}

// Envelope is the JSON frame carried in both directions. Payload is an alias
// of Data: outbound frames fill both, inbound frames may use either.
type Envelope struct {
	Type      string         `json:"type" jsonschema:"required,minLength=1"`
	Data      map[string]any `json:"data,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Source    string         `json:"source,omitempty"`
	ID        string         `json:"id,omitempty"`
	TS        int64          `json:"ts,omitempty" jsonschema:"description=Unix time in milliseconds"`
}

// NewEnvelope builds an envelope of the given type from any JSON encodable
// payload.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	env := Envelope{Type: eventType}
	if payload == nil {
		return env, nil
	}

	data, err := toMap(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	env.Data = data
	return env, nil
}

// Body returns Data, or Payload when Data is absent.
func (e Envelope) Body() map[string]any {
	if e.Data != nil {
		return e.Data
	}
	return e.Payload
}

// String returns the first non-empty string field among keys.
func (e Envelope) String(keys ...string) string {
	body := e.Body()
	for _, key := range keys {
		if v, ok := body[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Decode unmarshals the envelope body into a typed payload.
func Decode[T any](e Envelope) (T, error) {
	var v T
	raw, err := json.Marshal(e.Body())
	if err != nil {
		return v, fmt.Errorf("failed to re-encode %s body: %w", e.Type, err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s body: %w", e.Type, err)
	}
	return v, nil
}

func toMap(payload any) (map[string]any, error) {
	if m, ok := payload.(map[string]any); ok {
		return m, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func invalidMessageEvent() Envelope {
	return Envelope{Type: TypeError, Data: map[string]any{"message": invalidMessageText}}
}

type AuthenticatePayload struct {
	Token string `json:"token" jsonschema:"required"`
}

type AuthenticatedPayload struct {
	Authenticated bool `json:"authenticated"`
}

type AnnouncePayload struct {
	Name           string   `json:"name" jsonschema:"required"`
	Index          *int     `json:"index,omitempty"`
	PossibleEvents []string `json:"possibleEvents" jsonschema:"required"`
}

type SessionStartPayload struct {
	SessionID       string         `json:"session_id" jsonschema:"required"`
	UserID          string         `json:"user_id" jsonschema:"required"`
	ProfileID       string         `json:"profile_id" jsonschema:"required"`
	SessionMeta     map[string]any `json:"session_meta,omitempty"`
	DeveloperPrompt string         `json:"developer_prompt,omitempty"`
}

type InputTextPayload struct {
	SessionID       string `json:"session_id" jsonschema:"required"`
	UserID          string `json:"user_id" jsonschema:"required"`
	Text            string `json:"text" jsonschema:"required"`
	Provider        string `json:"provider,omitempty"`
	DeveloperPrompt string `json:"developer_prompt,omitempty"`
}

type InputInterruptPayload struct {
	SessionID string `json:"session_id" jsonschema:"required"`
}

type ChatDeltaPayload struct {
	Text  string `json:"text,omitempty"`
	Delta string `json:"delta,omitempty"`
}

type ChatCompletePayload struct {
	Text  string `json:"text,omitempty"`
	Final string `json:"final,omitempty"`
}

type AssistantMessagePayload struct {
	Message string `json:"message"`
}

type ToolCallPayload struct {
	ID       string `json:"id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	// ToolNameAlt is accepted from servers that send camelCase.
	ToolNameAlt string `json:"toolName,omitempty"`
	Args        any    `json:"args,omitempty"`
}

func (p ToolCallPayload) Name() string {
	if p.ToolName != "" {
		return p.ToolName
	}
	return p.ToolNameAlt
}

type ToolResultPayload struct {
	ID         string `json:"id,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Result     any    `json:"result,omitempty"`
}

func (p ToolResultPayload) CallID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.ToolCallID
}

type ErrorPayload struct {
	Message string `json:"message"`
}
