package events

import (
	"testing"
	"time"
)

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	expiry := time.Now().Add(time.Minute)

	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "turn start", event: NewTurnStart("t1", "voice", "streaming", "orchestrated"), expected: KindTurnStart},
		{name: "state change", event: NewStateChange("t1", "thinking", "executing_tools"), expected: KindStateChange},
		{name: "turn end", event: NewTurnEnd("t1", "success", "", "done"), expected: KindTurnEnd},
		{name: "turn cancelled", event: NewTurnCancelled("t1", "barge_in"), expected: KindTurnCancelled},
		{name: "tool call progress", event: NewToolCallProgress("t1", "r1", 0, "mail.search", "running", ""), expected: KindToolCallProgress},
		{name: "confirmation request", event: NewConfirmationRequest("t1", "c1", "mail.send", "Send mail to Alex?", expiry), expected: KindConfirmationRequest},
		{name: "clarification request", event: NewClarificationRequest("t1", "to", "Which Alex?", []string{"a", "b"}), expected: KindClarificationRequest},
		{name: "assistant text delta", event: NewAssistantTextDelta("t1", "chunk"), expected: KindAssistantTextDelta},
		{name: "assistant text final", event: NewAssistantTextFinal("t1", "text"), expected: KindAssistantTextFinal},
		{name: "error", event: NewError("t1", "turn_timeout", "turn timed out"), expected: KindError},
		{name: "user speech started", event: NewUserSpeechStarted(), expected: KindUserSpeechStarted},
		{name: "user speech ended", event: NewUserSpeechEnded(), expected: KindUserSpeechEnded},
		{name: "user transcript interim", event: NewUserTranscriptInterim("partial"), expected: KindUserTranscriptInterim},
		{name: "user transcript final", event: NewUserTranscriptFinal("full"), expected: KindUserTranscriptFinal},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if testCase.event.Timestamp().IsZero() {
				t.Fatalf("expected a non-zero timestamp")
			}
		})
	}
}

func TestEnvelopeCarriesIdentityAndOrdering(t *testing.T) {
	event := NewTurnEnd("turn-1", "partial", "", "one step failed")
	envelope := NewEnvelope("session-1", "turn-1", 42, 7, event)

	if envelope.SessionID != "session-1" || envelope.TurnID != "turn-1" {
		t.Fatalf("unexpected identity on envelope: %+v", envelope)
	}
	if envelope.Seq != 42 || envelope.TurnSeq != 7 {
		t.Fatalf("unexpected ordering counters: seq=%d turn_seq=%d", envelope.Seq, envelope.TurnSeq)
	}
	if envelope.Type != KindTurnEnd {
		t.Fatalf("expected type %q, got %q", KindTurnEnd, envelope.Type)
	}
	if envelope.Timestamp == "" {
		t.Fatalf("expected a formatted timestamp")
	}
}
