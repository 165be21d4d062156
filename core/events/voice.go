package events

import "time"

const (
	KindVoiceStateChanged Kind = "voice.state_changed"
	KindCaptureDiscarded  Kind = "voice.capture_discarded"
)

type VoiceStateChanged struct {
	Base
	State string
}

func NewVoiceStateChanged(state string) VoiceStateChanged {
	return VoiceStateChanged{Base: NewBase(KindVoiceStateChanged), State: state}
}

type CaptureDiscarded struct {
	Base
	Duration time.Duration
}

func NewCaptureDiscarded(duration time.Duration) CaptureDiscarded {
	return CaptureDiscarded{Base: NewBase(KindCaptureDiscarded), Duration: duration}
}
