package deepgram

import (
	"sync/atomic"
	"testing"

	"github.com/junavoice/juna-core/core/speechtotext"
)

func TestNewCallbackConfigDefaultsToNoopCallbacks(t *testing.T) {
	callbacks, wsConfig := newCallbackConfig(speechtotext.TranscriptionOptions{})

	callbacks.interimTranscriptionCallback("interim")
	callbacks.segmentTranscriptionCallback("segment")
	callbacks.transcriptionCallback("full")
	callbacks.startSpeechCallback()
	callbacks.endSpeechCallback()

	if wsConfig.shouldDetectSpeechStart {
		t.Fatalf("expected speech-start detection disabled when callback is unset")
	}
	if wsConfig.shouldEnhanceSpeechEndingDetection {
		t.Fatalf("expected speech-end enhancement disabled when callbacks are unset")
	}
	if wsConfig.shouldRequestInterimResults {
		t.Fatalf("expected interim-results disabled when callbacks are unset")
	}
}

func TestNewCallbackConfigKeepsConfiguredCallbacksAndFlags(t *testing.T) {
	interimCalls := atomic.Int32{}
	segmentCalls := atomic.Int32{}
	transcriptionCalls := atomic.Int32{}
	startCalls := atomic.Int32{}
	endCalls := atomic.Int32{}

	callbacks, wsConfig := newCallbackConfig(speechtotext.TranscriptionOptions{
		InterimTranscriptionCallback: func(string) { interimCalls.Add(1) },
		SegmentTranscriptionCallback: func(string) { segmentCalls.Add(1) },
		TranscriptionCallback:        func(string) { transcriptionCalls.Add(1) },
		SpeechStartedCallback:        func() { startCalls.Add(1) },
		SpeechEndedCallback:          func() { endCalls.Add(1) },
	})

	callbacks.interimTranscriptionCallback("hel")
	callbacks.segmentTranscriptionCallback("hello")
	callbacks.transcriptionCallback("hello world")
	callbacks.startSpeechCallback()
	callbacks.endSpeechCallback()

	if !wsConfig.shouldDetectSpeechStart {
		t.Fatalf("expected speech-start detection enabled")
	}
	if !wsConfig.shouldEnhanceSpeechEndingDetection {
		t.Fatalf("expected speech-end enhancement enabled")
	}
	if !wsConfig.shouldRequestInterimResults {
		t.Fatalf("expected interim-results enabled")
	}

	if got := interimCalls.Load(); got != 1 {
		t.Fatalf("expected interim callback once, got %d", got)
	}
	if got := segmentCalls.Load(); got != 1 {
		t.Fatalf("expected segment callback once, got %d", got)
	}
	if got := transcriptionCalls.Load(); got != 1 {
		t.Fatalf("expected transcription callback once, got %d", got)
	}
	if got := startCalls.Load(); got != 1 {
		t.Fatalf("expected speech-start callback once, got %d", got)
	}
	if got := endCalls.Load(); got != 1 {
		t.Fatalf("expected speech-end callback once, got %d", got)
	}
}

func TestValidateEncodingDefaultsAndRejects(t *testing.T) {
	options := speechtotext.TranscriptionOptions{}
	if err := validateEncoding(&options); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if options.Encoding != speechtotext.EncodingLinear16 || options.SampleRate != 16000 {
		t.Fatalf("unexpected defaults: %s %d", options.Encoding, options.SampleRate)
	}

	options = speechtotext.TranscriptionOptions{Encoding: speechtotext.EncodingMulaw, SampleRate: 16000}
	if err := validateEncoding(&options); err == nil {
		t.Fatalf("expected mulaw at 16k to be rejected")
	}
}
