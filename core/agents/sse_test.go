package agents

import (
	"errors"
	"io"
	"testing"
)

// pieceReader returns one piece per Read call, like a network body that
// delivers a frame in several packets.
type pieceReader struct {
	pieces []string
}

func (r *pieceReader) Read(p []byte) (int, error) {
	if len(r.pieces) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.pieces[0])
	r.pieces[0] = r.pieces[0][n:]
	if r.pieces[0] == "" {
		r.pieces = r.pieces[1:]
	}
	return n, nil
}

func readAll(t *testing.T, r io.Reader) []Event {
	t.Helper()
	frames := newFrameReader(r)
	var events []Event
	for {
		event, err := frames.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("expected frames, got %v", err)
		}
		events = append(events, event)
	}
}

func TestFrameReassemblyAtEveryOffset(t *testing.T) {
	frame := "event: message.delta\ndata: {\"text\":\"ab\"}\n\n"

	for offset := 0; offset <= len(frame); offset++ {
		events := readAll(t, &pieceReader{pieces: []string{frame[:offset], frame[offset:]}})

		if len(events) != 1 {
			t.Fatalf("offset %d: expected exactly one event, got %d", offset, len(events))
		}
		if events[0].Name != EventMessageDelta {
			t.Fatalf("offset %d: expected %s, got %s", offset, EventMessageDelta, events[0].Name)
		}
		if got := events[0].Text(); got != "ab" {
			t.Fatalf("offset %d: expected text ab, got %q", offset, got)
		}
	}
}

func TestFrameParsing(t *testing.T) {
	body := ": keep-alive\n\n" +
		"data: first line\ndata:   second line\n\n" +
		"event: conversation.id\ndata: {\"conversation_id\":\"c-1\"}\n\n" +
		"event: message.done\n\n" +
		"event: message.delta\ndata: tail"

	events := readAll(t, &pieceReader{pieces: []string{body}})
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}

	if events[0].Name != defaultEventName || events[0].Data != "first line\nsecond line" {
		t.Fatalf("expected joined raw message, got %+v", events[0])
	}
	if events[1].ConversationID() != "c-1" {
		t.Fatalf("expected conversation id c-1, got %+v", events[1])
	}
	if events[2].Name != EventMessageDone || events[2].Raw != "" {
		t.Fatalf("expected bare done event, got %+v", events[2])
	}
	if events[3].Name != EventMessageDelta || events[3].Text() != "tail" {
		t.Fatalf("expected unterminated trailing frame to be flushed, got %+v", events[3])
	}
}

func TestEventHelpers(t *testing.T) {
	supported, ok := Event{Data: map[string]any{"actionTokensSupported": true}}.ActionTokensSupported()
	if !ok || !supported {
		t.Fatalf("expected camelCase capability to be read")
	}
	if _, ok := (Event{Data: map[string]any{}}).ActionTokensSupported(); ok {
		t.Fatalf("expected missing capability to be reported as unknown")
	}

	if got := (Event{Data: map[string]any{"message": "boom"}}).ErrorMessage(); got != "boom" {
		t.Fatalf("expected boom, got %q", got)
	}
	if got := (Event{Data: "plain"}).ErrorMessage(); got != "plain" {
		t.Fatalf("expected plain, got %q", got)
	}
	if got := (Event{}).ErrorMessage(); got != defaultErrorMessage {
		t.Fatalf("expected default error message, got %q", got)
	}
}
