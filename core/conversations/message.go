// Package conversations holds chat history: finalized messages, the message
// being streamed, and stores that keep both per chat session.
package conversations

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
	RoleWarning   Role = "warning"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

type SliceType string

const (
	SliceText           SliceType = "text"
	SliceToolCall       SliceType = "tool-call"
	SliceToolCallResult SliceType = "tool-call-result"
)

// Slice is one ordered segment of an assistant message. Text is set for text
// slices, ToolCall for tool calls, ToolCallID and Result for tool results.
type Slice struct {
	Type       SliceType `json:"type"`
	Text       string    `json:"text,omitempty"`
	ToolCall   *ToolCall `json:"toolCall,omitempty"`
	ToolCallID string    `json:"id,omitempty"`
	Result     any       `json:"result,omitempty"`
}

type ToolCall struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"toolName"`
	Args any    `json:"args,omitempty"`
}

type ToolResult struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
}

type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Slices      []Slice      `json:"slices,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}
