package orchestration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/junavoice/juna-core/core/capability"
	"github.com/junavoice/juna-core/core/events"
)

func TestEngineAnswersCalendarQuestion(t *testing.T) {
	classifier := &fakeClassifier{classifications: map[string]turnClassification{
		"am I free tomorrow afternoon": {
			Intents:   []detectedIntent{{Intent: "calendar_answer", When: "tomorrow"}},
			Ambiguity: 0.6,
		},
	}}
	env := newTestEnv(t, classifier)

	turn, err := env.engine.HandleText(context.Background(), TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "k1", Text: "am I free tomorrow afternoon",
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if turn.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", turn.Outcome)
	}
	if got := env.recorder.countKind(events.KindConfirmationRequest); got != 0 {
		t.Fatalf("expected a read-only turn to need no confirmation, got %d", got)
	}
	if got := env.recorder.countKind(events.KindTurnEnd); got != 1 {
		t.Fatalf("expected one turn end, got %d", got)
	}

	record, err := env.db.GetTurn(turn.ID)
	if err != nil {
		t.Fatalf("failed to read turn: %v", err)
	}
	if record.State != string(StateIdle) || record.Outcome != string(OutcomeSuccess) {
		t.Fatalf("expected idle/success persisted, got %s/%s", record.State, record.Outcome)
	}
	if record.ExecutionMode != string(ExecutionModeOrchestrated) {
		t.Fatalf("expected an orchestrated turn, got %s", record.ExecutionMode)
	}

	runs, err := env.db.ListToolRuns(turn.ID)
	if err != nil {
		t.Fatalf("failed to list tool runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Capability != string(capability.CalendarList) || runs[0].Status != "succeeded" {
		t.Fatalf("expected one succeeded calendar list run, got %+v", runs)
	}
}

func TestEngineAnswersDirectly(t *testing.T) {
	classifier := &fakeClassifier{classifications: map[string]turnClassification{
		"how does photosynthesis work": {
			Intents:   []detectedIntent{{Intent: "general"}},
			Ambiguity: 0.1,
		},
	}}
	env := newTestEnv(t, classifier)

	turn, err := env.engine.HandleText(context.Background(), TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "k1", Text: "how does photosynthesis work",
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if turn.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", turn.Outcome)
	}
	record, err := env.db.GetTurn(turn.ID)
	if err != nil {
		t.Fatalf("failed to read turn: %v", err)
	}
	if record.ExecutionMode != string(ExecutionModeDirect) {
		t.Fatalf("expected a direct turn, got %s", record.ExecutionMode)
	}
	if got := env.recorder.countKind(events.KindAssistantTextFinal); got != 1 {
		t.Fatalf("expected one final response, got %d", got)
	}
}

func TestEngineDeduplicatesRetriedRequests(t *testing.T) {
	classifier := &fakeClassifier{classifications: map[string]turnClassification{
		"hello": {Intents: []detectedIntent{{Intent: "general"}}, Ambiguity: 0.1},
	}}
	env := newTestEnv(t, classifier)
	ctx := context.Background()

	first, err := env.engine.HandleText(ctx, TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "retry-key", Text: "hello",
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	second, err := env.engine.HandleText(ctx, TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "retry-key", Text: "hello",
	})
	if err != nil {
		t.Fatalf("retried turn failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the retried request to return the original turn, got %s and %s", first.ID, second.ID)
	}
	if got := env.recorder.countKind(events.KindTurnStart); got != 1 {
		t.Fatalf("expected one turn start, got %d", got)
	}
}

func TestEngineDisambiguatesAndConfirmsCompoundTurn(t *testing.T) {
	utterance := "email alex the report and set up a sync thursday at 3pm"
	classifier := &fakeClassifier{classifications: map[string]turnClassification{
		utterance: {
			Intents: []detectedIntent{
				{Intent: "send_email", Recipient: "alex", Subject: "the report", Body: "Here is the report."},
				{Intent: "schedule_event", Summary: "sync", When: "thursday at 3pm"},
			},
			Ambiguity: 0.3,
		},
	}}
	env := newTestEnv(t, classifier)
	env.mail.searchResults = []capability.Message{
		{From: "alex.smith@example.com", FromName: "Alex Smith"},
		{From: "alex.jones@example.com", FromName: "Alex Jones"},
	}
	env.autoResolveConfirmations(DecisionAccepted)
	ctx := context.Background()

	turn, err := env.engine.HandleText(ctx, TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "k1", Text: utterance,
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	// Ambiguous recipient: the turn suspends in thinking on a clarification.
	if turn.State != StateThinking {
		t.Fatalf("expected the turn to suspend in thinking, got %s", turn.State)
	}
	if !env.engine.HasSuspendedTurn("s1") {
		t.Fatal("expected a suspended turn")
	}
	if got := env.recorder.countKind(events.KindClarificationRequest); got != 1 {
		t.Fatalf("expected one clarification request, got %d", got)
	}
	if env.mail.sent() != 0 {
		t.Fatal("expected nothing to be sent while suspended")
	}

	resumed, err := env.engine.AnswerClarification(ctx, "s1", "alex.smith@example.com")
	if err != nil {
		t.Fatalf("failed to resume turn: %v", err)
	}
	if resumed.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (error code %s)", resumed.Outcome, resumed.ErrorCode)
	}
	if env.engine.HasSuspendedTurn("s1") {
		t.Fatal("expected the suspension to be cleared")
	}

	// Both writes were gated individually.
	if got := env.recorder.countKind(events.KindConfirmationRequest); got != 2 {
		t.Fatalf("expected two confirmation requests, got %d", got)
	}
	if env.mail.sent() != 1 {
		t.Fatalf("expected exactly one email, got %d", env.mail.sent())
	}
	if env.mail.lastSend.To != "alex.smith@example.com" {
		t.Fatalf("expected the chosen candidate as recipient, got %q", env.mail.lastSend.To)
	}
	if env.calendar.eventsCreated() != 1 {
		t.Fatalf("expected exactly one calendar event, got %d", env.calendar.eventsCreated())
	}
}

func TestEngineRetriesTransientWriteUnderOneKey(t *testing.T) {
	utterance := "schedule a review tomorrow at noon"
	classifier := &fakeClassifier{classifications: map[string]turnClassification{
		utterance: {
			Intents:   []detectedIntent{{Intent: "schedule_event", Summary: "review", When: "tomorrow at noon"}},
			Ambiguity: 0.1,
		},
	}}
	env := newTestEnv(t, classifier)
	env.calendar.failures = 2
	env.autoResolveConfirmations(DecisionAccepted)

	turn, err := env.engine.HandleText(context.Background(), TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "k1", Text: utterance,
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if turn.Outcome != OutcomeSuccess {
		t.Fatalf("expected success after retries, got %s (error code %s)", turn.Outcome, turn.ErrorCode)
	}

	if env.calendar.calls() != 3 {
		t.Fatalf("expected 3 provider attempts, got %d", env.calendar.calls())
	}
	if env.calendar.eventsCreated() != 1 {
		t.Fatalf("expected exactly one event on the provider, got %d", env.calendar.eventsCreated())
	}

	// All attempts share one idempotency key, so the store holds one run.
	runs, err := env.db.ListToolRuns(turn.ID)
	if err != nil {
		t.Fatalf("failed to list tool runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Capability != string(capability.CalendarCreate) {
		t.Fatalf("expected a single calendar create run, got %+v", runs)
	}
	if runs[0].Status != "succeeded" {
		t.Fatalf("expected the run to end succeeded, got %s", runs[0].Status)
	}
}

func TestEngineBargeInAfterSendDoesNotResend(t *testing.T) {
	utterance := "email sam@acme.com about the launch"
	classifier := &fakeClassifier{classifications: map[string]turnClassification{
		utterance: {
			Intents: []detectedIntent{
				{Intent: "send_email", Recipient: "sam@acme.com", Subject: "the launch", Body: "We are live."},
			},
			Ambiguity: 0.1,
		},
		"never mind, what's the weather": {
			Intents: []detectedIntent{{Intent: "general"}}, Ambiguity: 0.1,
		},
	}}
	env := newTestEnv(t, classifier)
	ctx := context.Background()

	// Accept the send, then barge in as soon as the response starts.
	var bargeIn sync.Once
	env.recorder.mu.Lock()
	env.recorder.reaction = func(event events.Event) {
		switch typed := event.(type) {
		case events.ConfirmationRequest:
			go env.engine.ResolveConfirmation(typed.ConfirmationRequestID, DecisionAccepted, nil)
		case events.AssistantTextDelta:
			bargeIn.Do(func() {
				env.engine.CancelActiveTurn(ctx, "s1", "barge_in")
			})
		}
	}
	env.recorder.mu.Unlock()

	turn, err := env.engine.HandleText(ctx, TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "k1", Text: utterance,
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if env.mail.sent() != 1 {
		t.Fatalf("expected the confirmed email to go out once, got %d", env.mail.sent())
	}
	record, err := env.db.GetTurn(turn.ID)
	if err != nil {
		t.Fatalf("failed to read turn: %v", err)
	}
	if record.State != string(StateCancelled) || record.Outcome != string(OutcomeCancelled) {
		t.Fatalf("expected the barged-in turn to end cancelled, got %s/%s", record.State, record.Outcome)
	}
	if got := env.recorder.countKind(events.KindTurnCancelled); got != 1 {
		t.Fatalf("expected one cancellation event, got %d", got)
	}

	// The session accepts the next turn immediately, and the sent email is
	// not sent again.
	next, err := env.engine.HandleText(ctx, TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "k2", Text: "never mind, what's the weather",
	})
	if err != nil {
		t.Fatalf("follow-up turn failed: %v", err)
	}
	if next.Outcome != OutcomeSuccess {
		t.Fatalf("expected the follow-up to succeed, got %s", next.Outcome)
	}
	if env.mail.sent() != 1 {
		t.Fatalf("expected no resend, got %d sends", env.mail.sent())
	}
}

func TestEngineRejectedWriteDoesNotExecute(t *testing.T) {
	utterance := "email sam@acme.com about the launch"
	classifier := &fakeClassifier{classifications: map[string]turnClassification{
		utterance: {
			Intents: []detectedIntent{
				{Intent: "send_email", Recipient: "sam@acme.com", Subject: "the launch", Body: "We are live."},
			},
			Ambiguity: 0.1,
		},
	}}
	env := newTestEnv(t, classifier)
	env.autoResolveConfirmations(DecisionRejected)

	turn, err := env.engine.HandleText(context.Background(), TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "k1", Text: utterance,
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if turn.Outcome != OutcomeFailed {
		t.Fatalf("expected a rejected-only turn to end failed, got %s", turn.Outcome)
	}
	if env.mail.sent() != 0 {
		t.Fatalf("expected no email, got %d sends", env.mail.sent())
	}

	record, err := env.db.GetTurn(turn.ID)
	if err != nil {
		t.Fatalf("failed to read turn: %v", err)
	}
	if record.State != string(StateErrorTerminal) || record.Outcome != string(OutcomeFailed) {
		t.Fatalf("expected error_terminal/failed persisted, got %s/%s", record.State, record.Outcome)
	}
	if record.ErrorCode != ErrorCodeConfirmationRejected {
		t.Fatalf("expected the rejection code on the turn, got %q", record.ErrorCode)
	}
}

func TestEngineConfirmationExpiryEndsTurn(t *testing.T) {
	utterance := "email sam@acme.com about the launch"
	classifier := &fakeClassifier{classifications: map[string]turnClassification{
		utterance: {
			Intents: []detectedIntent{
				{Intent: "send_email", Recipient: "sam@acme.com", Subject: "the launch", Body: "We are live."},
			},
			Ambiguity: 0.1,
		},
	}}
	env := newTestEnv(t, classifier, WithConfirmationTimeout(30*time.Millisecond))

	turn, err := env.engine.HandleText(context.Background(), TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "k1", Text: utterance,
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if turn.Outcome != OutcomeFailed {
		t.Fatalf("expected an expired confirmation to end the turn failed, got %s", turn.Outcome)
	}
	if turn.ErrorCode != ErrorCodeConfirmationExpired {
		t.Fatalf("expected the expiry code on the turn, got %q", turn.ErrorCode)
	}
	if env.mail.sent() != 0 {
		t.Fatalf("expected no email after expiry, got %d sends", env.mail.sent())
	}
}

func TestEngineUnansweredClarificationTimesOut(t *testing.T) {
	utterance := "email alex the report"
	classifier := &fakeClassifier{classifications: map[string]turnClassification{
		utterance: {
			Intents: []detectedIntent{
				{Intent: "send_email", Recipient: "alex", Subject: "the report", Body: "Here it is."},
			},
			Ambiguity: 0.3,
		},
	}}
	env := newTestEnv(t, classifier, WithTurnTimeout(50*time.Millisecond))
	env.mail.searchResults = []capability.Message{
		{From: "alex.smith@example.com", FromName: "Alex Smith"},
		{From: "alex.jones@example.com", FromName: "Alex Jones"},
	}

	turn, err := env.engine.HandleText(context.Background(), TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "k1", Text: utterance,
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if !env.engine.HasSuspendedTurn("s1") {
		t.Fatal("expected a suspended turn")
	}

	deadline := time.After(2 * time.Second)
	for {
		record, err := env.db.GetTurn(turn.ID)
		if err != nil {
			t.Fatalf("failed to read turn: %v", err)
		}
		if record.EndedAt != nil {
			if record.State != string(StateErrorTerminal) || record.ErrorCode != ErrorCodeTurnTimeout {
				t.Fatalf("expected error_terminal/turn_timeout persisted, got %s/%s", record.State, record.ErrorCode)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the suspended turn to expire")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if env.engine.HasSuspendedTurn("s1") {
		t.Fatal("expected the suspension to be dropped")
	}
	if env.mail.sent() != 0 {
		t.Fatalf("expected nothing to be sent, got %d sends", env.mail.sent())
	}

	// The session is free again once the suspension expired.
	if _, err := env.engine.HandleText(context.Background(), TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "k2", Text: "hello",
	}); err != nil {
		t.Fatalf("expected a new turn after expiry, got %v", err)
	}
}

func TestEngineVoiceTurnWalksInputStates(t *testing.T) {
	classifier := &fakeClassifier{classifications: map[string]turnClassification{
		"hello there": {Intents: []detectedIntent{{Intent: "general"}}, Ambiguity: 0.1},
	}}
	env := newTestEnv(t, classifier)

	turn, err := env.engine.HandleTranscript(context.Background(), TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "k1", Text: "hello there",
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if turn.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", turn.Outcome)
	}

	// The voice lifecycle passes through input finalization before thinking.
	var sawFinalizing bool
	env.recorder.mu.Lock()
	for _, event := range env.recorder.events {
		if change, ok := event.(events.StateChange); ok {
			if change.From == string(StateListening) && change.To == string(StateFinalizingInput) {
				sawFinalizing = true
			}
		}
	}
	env.recorder.mu.Unlock()
	if !sawFinalizing {
		t.Fatal("expected a listening -> finalizing_input transition")
	}
}

func TestEngineUnresolvableRecipientFailsTurn(t *testing.T) {
	utterance := "email zelda the notes"
	classifier := &fakeClassifier{classifications: map[string]turnClassification{
		utterance: {
			Intents:   []detectedIntent{{Intent: "send_email", Recipient: "zelda", Subject: "notes", Body: "Attached."}},
			Ambiguity: 0.1,
		},
	}}
	env := newTestEnv(t, classifier)
	// No search results: the reference cannot be resolved.

	turn, err := env.engine.HandleText(context.Background(), TurnRequest{
		SessionID: "s1", Identity: "user", RequestKey: "k1", Text: utterance,
	})
	if err == nil {
		t.Fatal("expected the turn to fail")
	}
	if turn.ErrorCode != ErrorCodeUnresolvableReference {
		t.Fatalf("expected %s, got %s", ErrorCodeUnresolvableReference, turn.ErrorCode)
	}
	if got := env.recorder.countKind(events.KindError); got != 1 {
		t.Fatalf("expected one error event, got %d", got)
	}

	record, err := env.db.GetTurn(turn.ID)
	if err != nil {
		t.Fatalf("failed to read turn: %v", err)
	}
	if record.State != string(StateErrorTerminal) || record.Outcome != string(OutcomeFailed) {
		t.Fatalf("expected error_terminal/failed persisted, got %s/%s", record.State, record.Outcome)
	}
}
