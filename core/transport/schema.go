package transport

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

const envelopeSchemaKey = "envelope"

var payloadTypes = map[string]any{
	TypeAuthenticate:     AuthenticatePayload{},
	TypeAuthenticated:    AuthenticatedPayload{},
	TypeAnnounce:         AnnouncePayload{},
	TypeSessionStart:     SessionStartPayload{},
	TypeInputText:        InputTextPayload{},
	TypeInputInterrupt:   InputInterruptPayload{},
	TypeChatDelta:        ChatDeltaPayload{},
	TypeChatComplete:     ChatCompletePayload{},
	TypeAssistantMessage: AssistantMessagePayload{},
	TypeToolCall:         ToolCallPayload{},
	TypeToolResult:       ToolResultPayload{},
	TypeError:            ErrorPayload{},
}

// Schemas returns a JSON Schema for the envelope (under "envelope") and for
// the body of every event type with a fixed shape.
func Schemas() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}

	schemas := make(map[string]*jsonschema.Schema, len(payloadTypes)+1)
	schemas[envelopeSchemaKey] = reflector.Reflect(Envelope{})
	for eventType, payload := range payloadTypes {
		schema := reflector.Reflect(payload)
		schema.Title = eventType
		schemas[eventType] = schema
	}
	return schemas
}

// SchemaJSON renders Schemas as indented JSON.
func SchemaJSON() ([]byte, error) {
	out, err := json.MarshalIndent(Schemas(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal protocol schema: %w", err)
	}
	return out, nil
}
