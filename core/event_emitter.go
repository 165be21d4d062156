package orchestration

import "github.com/koscakluka/ema-stage/core/events"

// emit routes an event to the matching typed hooks first, then to every
// generic event handler. Runs on the event loop.
func (o *Orchestrator) emit(event events.Event) {
	switch typedEvent := event.(type) {
	case events.AssistantResponseSegment:
		for _, hook := range o.literalHooks.Snapshot() {
			hook(typedEvent.Segment)
		}
	case events.AssistantActionToken:
		for _, hook := range o.specialHooks.Snapshot() {
			hook(typedEvent.Tag)
		}
	case events.AssistantResponseFinal:
		for _, hook := range o.finalHooks.Snapshot() {
			hook(typedEvent.Message)
		}
	case events.MessageAppended:
		for _, hook := range o.messageHooks.Snapshot() {
			hook(typedEvent.Message)
		}
	}

	for _, handler := range o.eventHooks.Snapshot() {
		handler(event)
	}
}
