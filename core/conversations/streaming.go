package conversations

import (
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/copier"
)

// StreamingMessage accumulates an assistant reply while it streams in. It is
// not safe for concurrent use.
type StreamingMessage struct {
	id          string
	createdAt   time.Time
	content     strings.Builder
	slices      []Slice
	toolResults []ToolResult
}

func NewStreamingMessage(id string) *StreamingMessage {
	return &StreamingMessage{id: id, createdAt: time.Now()}
}

func (m *StreamingMessage) ID() string {
	return m.id
}

func (m *StreamingMessage) Content() string {
	return m.content.String()
}

// AppendText adds literal text, extending the trailing text slice or opening
// a new one after a tool slice.
func (m *StreamingMessage) AppendText(text string) {
	if text == "" {
		return
	}

	m.content.WriteString(text)
	if n := len(m.slices); n > 0 && m.slices[n-1].Type == SliceText {
		m.slices[n-1].Text += text
		return
	}
	m.slices = append(m.slices, Slice{Type: SliceText, Text: text})
}

func (m *StreamingMessage) AppendToolCall(call ToolCall) {
	m.slices = append(m.slices, Slice{Type: SliceToolCall, ToolCall: &call})
}

func (m *StreamingMessage) AppendToolResult(id string, result any) {
	m.slices = append(m.slices, Slice{Type: SliceToolCallResult, ToolCallID: id, Result: result})
	m.toolResults = append(m.toolResults, ToolResult{ID: id, Result: result})
}

// Freeze returns an independent assistant message. content replaces the
// accumulated text when the stream produced none.
func (m *StreamingMessage) Freeze(content string) (Message, error) {
	msg := Message{
		ID:        m.id,
		Role:      RoleAssistant,
		Content:   m.content.String(),
		CreatedAt: m.createdAt,
	}
	if msg.Content == "" {
		msg.Content = content
	}

	if err := copier.CopyWithOption(&msg.Slices, &m.slices, copier.Option{DeepCopy: true}); err != nil {
		return Message{}, fmt.Errorf("failed to copy message slices: %w", err)
	}
	if err := copier.CopyWithOption(&msg.ToolResults, &m.toolResults, copier.Option{DeepCopy: true}); err != nil {
		return Message{}, fmt.Errorf("failed to copy tool results: %w", err)
	}
	if len(msg.Slices) == 0 && msg.Content != "" {
		msg.Slices = []Slice{{Type: SliceText, Text: msg.Content}}
	}
	return msg, nil
}
