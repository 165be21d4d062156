package events

import (
	"testing"

	"github.com/koscakluka/ema-stage/core/conversations"
)

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "transport status changed", event: NewTransportStatusChanged("connected"), expected: KindTransportStatusChanged},
		{name: "session ready", event: NewSessionReady("s"), expected: KindSessionReady},
		{name: "user speech started", event: NewUserSpeechStarted(), expected: KindUserSpeechStarted},
		{name: "user speech ended", event: NewUserSpeechEnded(), expected: KindUserSpeechEnded},
		{name: "user transcript final", event: NewUserTranscriptFinal("text"), expected: KindUserTranscriptFinal},
		{name: "user audio level", event: NewUserAudioLevel(42), expected: KindUserAudioLevel},
		{name: "assistant response segment", event: NewAssistantResponseSegment("seg"), expected: KindAssistantResponseSegment},
		{name: "assistant action token", event: NewAssistantActionToken("<|wave|>"), expected: KindAssistantActionToken},
		{name: "assistant response final", event: NewAssistantResponseFinal(conversations.Message{}), expected: KindAssistantResponseFinal},
		{name: "message appended", event: NewMessageAppended(conversations.Message{}), expected: KindMessageAppended},
		{name: "tool call started", event: NewToolCallStarted("1", "search", nil), expected: KindToolCallStarted},
		{name: "tool call completed", event: NewToolCallCompleted("1", "ok"), expected: KindToolCallCompleted},
		{name: "turn started", event: NewTurnStarted("t", "agent"), expected: KindTurnStarted},
		{name: "turn completed", event: NewTurnCompleted("t"), expected: KindTurnCompleted},
		{name: "turn failed", event: NewTurnFailed("t", "boom"), expected: KindTurnFailed},
		{name: "turn cancelled", event: NewTurnCancelled("t"), expected: KindTurnCancelled},
		{name: "voice state changed", event: NewVoiceStateChanged("armed"), expected: KindVoiceStateChanged},
		{name: "capture discarded", event: NewCaptureDiscarded(0), expected: KindCaptureDiscarded},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if testCase.event.Timestamp().IsZero() {
				t.Fatalf("expected timestamp to be set")
			}
		})
	}
}
