package events

const (
	KindTransportStatusChanged Kind = "transport.status_changed"
	KindSessionReady           Kind = "transport.session_ready"
)

type TransportStatusChanged struct {
	Base
	Status string
}

func NewTransportStatusChanged(status string) TransportStatusChanged {
	return TransportStatusChanged{Base: NewBase(KindTransportStatusChanged), Status: status}
}

type SessionReady struct {
	Base
	SessionID string
}

func NewSessionReady(sessionID string) SessionReady {
	return SessionReady{Base: NewBase(KindSessionReady), SessionID: sessionID}
}
