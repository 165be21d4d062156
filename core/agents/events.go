package agents

// Event names sent by agent engines.
const (
	EventConversationID    = "conversation.id"
	EventCapabilities      = "capabilities"
	EventAgentCapabilities = "agent.capabilities"
	EventMessageDelta      = "message.delta"
	EventMessageDone       = "message.done"
	EventError             = "error"
)

const defaultErrorMessage = "Agent error."

// Fields returns the decoded object, or nil when the data is not an object.
func (e Event) Fields() map[string]any {
	fields, _ := e.Data.(map[string]any)
	return fields
}

func (e Event) stringField(keys ...string) string {
	fields := e.Fields()
	for _, key := range keys {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ConversationID extracts the backend conversation identifier.
func (e Event) ConversationID() string {
	if id := e.stringField("conversation_id", "conversationId", "id"); id != "" {
		return id
	}
	if s, ok := e.Data.(string); ok {
		return s
	}
	return ""
}

// ActionTokensSupported reports whether the engine declared support for
// inline action tokens. ok is false when the event does not say.
func (e Event) ActionTokensSupported() (supported bool, ok bool) {
	fields := e.Fields()
	for _, key := range []string{"action_tokens", "actionTokens", "action_tokens_supported", "actionTokensSupported"} {
		if v, isBool := fields[key].(bool); isBool {
			return v, true
		}
	}
	return false, false
}

// Text returns the text carried by a delta, either the "text" field or the
// undecoded data.
func (e Event) Text() string {
	if s, ok := e.Data.(string); ok {
		return s
	}
	return e.stringField("text")
}

func (e Event) ErrorMessage() string {
	if msg := e.stringField("message"); msg != "" {
		return msg
	}
	if s, ok := e.Data.(string); ok && s != "" {
		return s
	}
	return defaultErrorMessage
}
