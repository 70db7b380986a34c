package events

const (
	// KindUserSpeechStarted identifies detected start of user speech.
	KindUserSpeechStarted Kind = "user_speech_started"
	// KindUserSpeechEnded identifies detected end of user speech.
	KindUserSpeechEnded Kind = "user_speech_ended"
	// KindUserTranscriptInterim identifies a mutable interim transcript.
	KindUserTranscriptInterim Kind = "user_transcript_interim"
	// KindUserTranscriptFinal identifies the terminal utterance transcript.
	KindUserTranscriptFinal Kind = "user_transcript_final"
)

// UserSpeechStarted marks detected start of speech activity.
type UserSpeechStarted struct{ Base }

// NewUserSpeechStarted creates a user speech started event.
func NewUserSpeechStarted() UserSpeechStarted {
	return UserSpeechStarted{Base: NewBase(KindUserSpeechStarted)}
}

// UserSpeechEnded marks detected end of speech activity.
type UserSpeechEnded struct{ Base }

// NewUserSpeechEnded creates a user speech ended event.
func NewUserSpeechEnded() UserSpeechEnded {
	return UserSpeechEnded{Base: NewBase(KindUserSpeechEnded)}
}

// UserTranscriptInterim carries a point-in-time interim transcript snapshot
// that may still change.
type UserTranscriptInterim struct {
	Base
	Transcript string
}

// NewUserTranscriptInterim creates an interim transcript event.
func NewUserTranscriptInterim(transcript string) UserTranscriptInterim {
	return UserTranscriptInterim{Base: NewBase(KindUserTranscriptInterim), Transcript: transcript}
}

// UserTranscriptFinal carries the terminal transcript for the utterance.
type UserTranscriptFinal struct {
	Base
	Transcript string
}

// NewUserTranscriptFinal creates a final transcript event.
func NewUserTranscriptFinal(transcript string) UserTranscriptFinal {
	return UserTranscriptFinal{Base: NewBase(KindUserTranscriptFinal), Transcript: transcript}
}
