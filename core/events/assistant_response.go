package events

import "github.com/koscakluka/ema-stage/core/conversations"

const (
	// KindAssistantResponseSegment identifies streamed literal reply text.
	KindAssistantResponseSegment Kind = "assistant_response.segment"
	// KindAssistantActionToken identifies a control directive in the reply.
	KindAssistantActionToken Kind = "assistant_response.action_token"
	// KindAssistantResponseFinal identifies the finalized reply.
	KindAssistantResponseFinal Kind = "assistant_response.final"
	// KindMessageAppended identifies any message added to history.
	KindMessageAppended Kind = "assistant_response.message_appended"
)

type AssistantResponseSegment struct {
	Base
	Segment string
}

func NewAssistantResponseSegment(segment string) AssistantResponseSegment {
	return AssistantResponseSegment{Base: NewBase(KindAssistantResponseSegment), Segment: segment}
}

// AssistantActionToken carries a complete directive including delimiters.
type AssistantActionToken struct {
	Base
	Tag string
}

func NewAssistantActionToken(tag string) AssistantActionToken {
	return AssistantActionToken{Base: NewBase(KindAssistantActionToken), Tag: tag}
}

type AssistantResponseFinal struct {
	Base
	Message conversations.Message
}

func NewAssistantResponseFinal(message conversations.Message) AssistantResponseFinal {
	return AssistantResponseFinal{Base: NewBase(KindAssistantResponseFinal), Message: message}
}

type MessageAppended struct {
	Base
	Message conversations.Message
}

func NewMessageAppended(message conversations.Message) MessageAppended {
	return MessageAppended{Base: NewBase(KindMessageAppended), Message: message}
}
