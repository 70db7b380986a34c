// Package speechtotext defines the transcription boundary for voice input.
package speechtotext

// Encoding is the raw audio encoding of the inbound stream.
type Encoding string

const (
	EncodingLinear16 Encoding = "linear16"
	EncodingMulaw    Encoding = "mulaw"
	EncodingALaw     Encoding = "alaw"
)

type TranscriptionOptions struct {
	// InterimTranscriptionCallback receives mutable partial transcripts that
	// may still be revised.
	InterimTranscriptionCallback func(transcript string)
	// SegmentTranscriptionCallback receives finalized transcript segments as
	// they settle.
	SegmentTranscriptionCallback func(transcript string)
	// TranscriptionCallback receives the full utterance transcript once the
	// speaker stops.
	TranscriptionCallback func(transcript string)

	SpeechStartedCallback func()
	SpeechEndedCallback   func()

	Encoding   Encoding
	SampleRate int
}

type TranscriptionOption func(*TranscriptionOptions)

func WithInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.InterimTranscriptionCallback = callback
	}
}

func WithSegmentTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SegmentTranscriptionCallback = callback
	}
}

func WithTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TranscriptionCallback = callback
	}
}

func WithSpeechStartedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechStartedCallback = callback
	}
}

func WithSpeechEndedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechEndedCallback = callback
	}
}

func WithEncoding(encoding Encoding, sampleRate int) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Encoding = encoding
		o.SampleRate = sampleRate
	}
}
