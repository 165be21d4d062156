package events

const (
	// KindToolCallStarted identifies a tool call reported by the backend.
	KindToolCallStarted Kind = "tool_call.started"
	// KindToolCallCompleted identifies a tool result reported by the backend.
	KindToolCallCompleted Kind = "tool_call.completed"
)

type ToolCallStarted struct {
	Base
	ID   string
	Name string
	Args any
}

func NewToolCallStarted(id, name string, args any) ToolCallStarted {
	return ToolCallStarted{Base: NewBase(KindToolCallStarted), ID: id, Name: name, Args: args}
}

type ToolCallCompleted struct {
	Base
	ID     string
	Result any
}

func NewToolCallCompleted(id string, result any) ToolCallCompleted {
	return ToolCallCompleted{Base: NewBase(KindToolCallCompleted), ID: id, Result: result}
}
