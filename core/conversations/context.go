package conversations

// ActiveContext exposes live conversation state to observers.
type ActiveContext interface {
	// Finalized messages of the current chat session. Ordering: oldest ->
	// newest.
	History() []Message

	// Snapshot of the reply being streamed; nil when none is in progress.
	Streaming() *Message
}
