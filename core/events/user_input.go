package events

const (
	// KindUserSpeechStarted identifies start of user speech activity.
	KindUserSpeechStarted Kind = "user_input.speech_started"
	// KindUserSpeechEnded identifies end of user speech activity.
	KindUserSpeechEnded Kind = "user_input.speech_ended"
	// KindUserTranscriptFinal identifies the final transcript for a capture.
	KindUserTranscriptFinal Kind = "user_input.transcript_final"
	// KindUserAudioLevel identifies a microphone level reading.
	KindUserAudioLevel Kind = "user_input.audio_level"
)

// UserSpeechStarted marks when user speech activity starts.
type UserSpeechStarted struct{ Base }

func NewUserSpeechStarted() UserSpeechStarted {
	return UserSpeechStarted{Base: NewBase(KindUserSpeechStarted)}
}

// UserSpeechEnded marks when user speech activity ends.
type UserSpeechEnded struct{ Base }

func NewUserSpeechEnded() UserSpeechEnded {
	return UserSpeechEnded{Base: NewBase(KindUserSpeechEnded)}
}

// UserTranscriptFinal carries the transcript of one capture.
type UserTranscriptFinal struct {
	Base
	Transcript string
}

func NewUserTranscriptFinal(transcript string) UserTranscriptFinal {
	return UserTranscriptFinal{Base: NewBase(KindUserTranscriptFinal), Transcript: transcript}
}

// UserAudioLevel carries a 0..100 microphone level.
type UserAudioLevel struct {
	Base
	Level int
}

func NewUserAudioLevel(level int) UserAudioLevel {
	return UserAudioLevel{Base: NewBase(KindUserAudioLevel), Level: level}
}
