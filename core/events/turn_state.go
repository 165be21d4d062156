package events

const (
	KindTurnStarted   Kind = "turn_state.started"
	KindTurnCompleted Kind = "turn_state.completed"
	KindTurnFailed    Kind = "turn_state.failed"
	KindTurnCancelled Kind = "turn_state.cancelled"
)

// TurnStarted marks a new turn. Mode is "agent" or "provider".
type TurnStarted struct {
	Base
	TurnID string
	Mode   string
}

func NewTurnStarted(turnID, mode string) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted), TurnID: turnID, Mode: mode}
}

type TurnCompleted struct {
	Base
	TurnID string
}

func NewTurnCompleted(turnID string) TurnCompleted {
	return TurnCompleted{Base: NewBase(KindTurnCompleted), TurnID: turnID}
}

type TurnFailed struct {
	Base
	TurnID string
	Reason string
}

func NewTurnFailed(turnID, reason string) TurnFailed {
	return TurnFailed{Base: NewBase(KindTurnFailed), TurnID: turnID, Reason: reason}
}

type TurnCancelled struct {
	Base
	TurnID string
}

func NewTurnCancelled(turnID string) TurnCancelled {
	return TurnCancelled{Base: NewBase(KindTurnCancelled), TurnID: turnID}
}
