package conversations

import "testing"

func TestStreamingMessageSlices(t *testing.T) {
	m := NewStreamingMessage("m-1")
	m.AppendText("Let me ")
	m.AppendText("check.")
	m.AppendToolCall(ToolCall{Name: "weather", Args: map[string]any{"city": "Zagreb"}})
	m.AppendToolResult("call-1", "sunny")
	m.AppendText("It is sunny.")

	msg, err := m.Freeze("")
	if err != nil {
		t.Fatalf("expected freeze to succeed, got %v", err)
	}

	if msg.Content != "Let me check.It is sunny." {
		t.Fatalf("unexpected content %q", msg.Content)
	}
	expected := []SliceType{SliceText, SliceToolCall, SliceToolCallResult, SliceText}
	if len(msg.Slices) != len(expected) {
		t.Fatalf("expected %d slices, got %+v", len(expected), msg.Slices)
	}
	for i, typ := range expected {
		if msg.Slices[i].Type != typ {
			t.Fatalf("slice %d: expected %s, got %s", i, typ, msg.Slices[i].Type)
		}
	}
	if msg.Slices[0].Text != "Let me check." {
		t.Fatalf("expected consecutive text to share a slice, got %q", msg.Slices[0].Text)
	}
	if msg.Slices[1].ToolCall == nil || msg.Slices[1].ToolCall.Name != "weather" {
		t.Fatalf("expected tool call slice, got %+v", msg.Slices[1])
	}
	if len(msg.ToolResults) != 1 || msg.ToolResults[0].ID != "call-1" {
		t.Fatalf("expected one tool result, got %+v", msg.ToolResults)
	}
}

func TestFrozenMessageIsIndependent(t *testing.T) {
	m := NewStreamingMessage("m-2")
	m.AppendText("before")

	msg, err := m.Freeze("")
	if err != nil {
		t.Fatalf("expected freeze to succeed, got %v", err)
	}

	m.AppendText(" after")
	if msg.Content != "before" || msg.Slices[0].Text != "before" {
		t.Fatalf("expected frozen message to be unaffected, got %+v", msg)
	}
}

func TestFreezeFallsBackToProvidedContent(t *testing.T) {
	msg, err := NewStreamingMessage("m-3").Freeze("final text")
	if err != nil {
		t.Fatalf("expected freeze to succeed, got %v", err)
	}
	if msg.Content != "final text" || len(msg.Slices) != 1 || msg.Slices[0].Text != "final text" {
		t.Fatalf("expected fallback content, got %+v", msg)
	}
	if msg.Role != RoleAssistant {
		t.Fatalf("expected assistant role, got %s", msg.Role)
	}
}
