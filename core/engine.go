// Package orchestration coordinates conversational turns for a voice and
// text assistant: admitting turns, selecting how they execute, planning and
// resolving tool use, gating writes behind confirmation, and narrating what
// happened.
package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/junavoice/juna-core/core/events"
	"github.com/junavoice/juna-core/core/llms"
)

const historyLimit = 12

// Engine is the entry point for running turns. One engine serves many
// concurrent sessions; per-session ordering is enforced by the coordinator.
type Engine struct {
	coordinator *Coordinator
	planner     *Planner
	resolver    *Resolver
	gate        *ConfirmationGate
	executor    *Executor
	tools       ToolInvoker

	responder    llms.StreamingClient
	streamHealth *ChannelHealth
	emit         eventEmitter
	turnTimeout  time.Duration
	now          func() time.Time

	mu        sync.Mutex
	suspended map[string]*suspendedTurn
	history   map[string][]llms.Exchange
}

// suspendedTurn is a turn paused in thinking on an open clarification. The
// expiry timer keeps the overall turn deadline honest while the engine waits
// on the user: an unanswered clarification fails the turn instead of holding
// the session open forever.
type suspendedTurn struct {
	turn          Turn
	plan          *Plan
	clarification *Clarification
	expiry        *time.Timer
}

// TurnRequest describes one user turn for the engine to run.
type TurnRequest struct {
	SessionID string
	ThreadID  string
	Identity  string

	// RequestKey deduplicates retried submissions of the same turn.
	RequestKey string
	Text       string
}

// HandleText runs a typed turn to completion (or suspension).
func (e *Engine) HandleText(ctx context.Context, req TurnRequest) (Turn, error) {
	return e.runTurn(ctx, req, InputModeText)
}

// HandleTranscript runs a voice turn whose final transcript has already been
// assembled by the input boundary.
func (e *Engine) HandleTranscript(ctx context.Context, req TurnRequest) (Turn, error) {
	return e.runTurn(ctx, req, InputModeVoice)
}

// AdmitEvent enforces session-scoped event ordering for the transport.
func (e *Engine) AdmitEvent(sessionID string, seq uint64) error {
	return e.coordinator.AdmitEvent(sessionID, seq)
}

// ResolveConfirmation applies the user's decision to a pending write.
func (e *Engine) ResolveConfirmation(confirmationRequestID string, action DecisionAction, editedArgs json.RawMessage) error {
	return e.gate.Resolve(confirmationRequestID, action, editedArgs)
}

// ActiveTurn reports the session's current non-terminal turn, if any.
func (e *Engine) ActiveTurn(sessionID string) (Turn, bool) {
	return e.coordinator.Active(sessionID)
}

// TurnInfo reports the owning session and admission sequence for a turn.
func (e *Engine) TurnInfo(turnID string) (sessionID string, turnSeq uint64, ok bool) {
	return e.coordinator.TurnInfo(turnID)
}

// HasSuspendedTurn reports whether the session is waiting on a
// clarification answer.
func (e *Engine) HasSuspendedTurn(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.suspended[sessionID]
	return ok
}

// RecordChannelSample feeds one streaming-channel observation into mode
// selection.
func (e *Engine) RecordChannelSample(latency time.Duration, err error) {
	e.streamHealth.Record(latency, err)
}

// CancelActiveTurn cancels the session's active turn, expiring any pending
// confirmations and dropping a suspended clarification. In-flight tool
// invocations drain on their own; their results are discarded. Returns
// whether a turn was actually cancelled.
func (e *Engine) CancelActiveTurn(ctx context.Context, sessionID, reason string) bool {
	e.mu.Lock()
	if suspended, ok := e.suspended[sessionID]; ok {
		suspended.expiry.Stop()
		delete(e.suspended, sessionID)
	}
	e.mu.Unlock()

	active, ok := e.coordinator.Active(sessionID)
	if !ok {
		return false
	}
	if err := e.coordinator.Cancel(ctx, active.ID, reason); err != nil {
		logger.ErrorContext(ctx, "failed to cancel turn", "turn_id", active.ID, "error", err)
		return false
	}
	e.gate.CancelTurn(active.ID)
	return true
}

func (e *Engine) runTurn(ctx context.Context, req TurnRequest, inputMode InputMode) (Turn, error) {
	ctx, span := tracer.Start(ctx, "run turn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	turn, admitted, err := e.coordinator.StartTurn(ctx, StartTurnRequest{
		SessionID:  req.SessionID,
		ThreadID:   req.ThreadID,
		Identity:   req.Identity,
		RequestKey: req.RequestKey,
		InputMode:  inputMode,
		Utterance:  req.Text,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Turn{}, err
	}
	if !admitted {
		span.AddEvent("duplicate turn request")
		return turn, nil
	}
	span.SetAttributes(attribute.String("turn.id", turn.ID))

	ctx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()

	if inputMode == InputModeVoice {
		if turn, err = e.coordinator.Advance(ctx, turn.ID, StateFinalizingInput); err != nil {
			return e.failTurn(ctx, turn, ErrorCodeOrderingViolation, err)
		}
		if turn, err = e.coordinator.Advance(ctx, turn.ID, StateThinking); err != nil {
			return e.failTurn(ctx, turn, ErrorCodeOrderingViolation, err)
		}
	}

	plan, err := e.planner.BuildPlan(ctx, turn, e.sessionHistory(req.SessionID))
	if err != nil {
		return e.failTurn(ctx, turn, ErrorCodePlanningFailed, err)
	}

	decision := SelectMode(SelectorInputs{
		StreamingHealthy: e.streamHealth.Healthy(),
		StepCount:        len(plan.Steps),
		HasWrite:         plan.HasWrite(),
		AmbiguityScore:   plan.AmbiguityScore,
	})
	if err := e.coordinator.SetModes(ctx, turn.ID, decision.Pipeline, decision.ExecutionMode); err != nil {
		return e.failTurn(ctx, turn, ErrorCodePlanningFailed, err)
	}
	turn.Pipeline = decision.Pipeline
	turn.ExecutionMode = decision.ExecutionMode
	span.SetAttributes(
		attribute.String("turn.pipeline", string(decision.Pipeline)),
		attribute.String("turn.execution_mode", string(decision.ExecutionMode)),
	)

	if decision.ExecutionMode == ExecutionModeDirect {
		return e.respondDirect(ctx, turn)
	}
	return e.advancePlan(ctx, turn, plan)
}

// advancePlan resolves open references and either suspends on a
// clarification or executes the plan.
func (e *Engine) advancePlan(ctx context.Context, turn Turn, plan *Plan) (Turn, error) {
	clarification, err := e.resolver.Resolve(ctx, turn, plan)
	if err != nil {
		code := ErrorCodePlanningFailed
		if errors.Is(err, ErrUnresolvableReference) {
			code = ErrorCodeUnresolvableReference
		}
		return e.failTurn(ctx, turn, code, err)
	}

	if clarification != nil {
		suspended := &suspendedTurn{turn: turn, plan: plan, clarification: clarification}
		suspended.expiry = time.AfterFunc(e.turnTimeout, func() {
			e.expireSuspendedTurn(turn.SessionID, turn.ID)
		})
		e.mu.Lock()
		e.suspended[turn.SessionID] = suspended
		e.mu.Unlock()
		e.emit(events.NewClarificationRequest(turn.ID, clarification.Field, clarification.Question, clarification.Candidates))
		return turn, nil
	}

	return e.execute(ctx, turn, plan)
}

// AnswerClarification resumes the session's suspended turn with the user's
// answer. Remaining open fields surface as further clarifications.
func (e *Engine) AnswerClarification(ctx context.Context, sessionID, answer string) (Turn, error) {
	e.mu.Lock()
	suspended, ok := e.suspended[sessionID]
	delete(e.suspended, sessionID)
	e.mu.Unlock()
	if !ok {
		return Turn{}, fmt.Errorf("no suspended turn for session %s", sessionID)
	}
	suspended.expiry.Stop()

	if err := e.resolver.ApplyAnswer(suspended.plan, suspended.clarification, answer); err != nil {
		return e.failTurn(ctx, suspended.turn, ErrorCodePlanningFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()
	return e.advancePlan(ctx, suspended.turn, suspended.plan)
}

// expireSuspendedTurn fails a suspended turn whose clarification went
// unanswered past the turn deadline. A stale timer that lost the race with
// an answer or a cancellation finds nothing and does nothing.
func (e *Engine) expireSuspendedTurn(sessionID, turnID string) {
	e.mu.Lock()
	suspended, ok := e.suspended[sessionID]
	if !ok || suspended.turn.ID != turnID {
		e.mu.Unlock()
		return
	}
	delete(e.suspended, sessionID)
	e.mu.Unlock()

	e.failTurn(context.Background(), suspended.turn, ErrorCodeTurnTimeout,
		errors.New("clarification went unanswered"))
}

func (e *Engine) execute(ctx context.Context, turn Turn, plan *Plan) (Turn, error) {
	turn, err := e.coordinator.Advance(ctx, turn.ID, StateExecutingTools)
	if err != nil {
		return e.failTurn(ctx, turn, ErrorCodeOrderingViolation, err)
	}

	// Concurrent branches may hit the gate at different times; only the
	// first waiter and last resumer move the state machine.
	var waiting int
	var waitingMu sync.Mutex
	callbacks := ExecutorCallbacks{
		OnAwaitingConfirmation: func() {
			waitingMu.Lock()
			waiting++
			first := waiting == 1
			waitingMu.Unlock()
			if first {
				e.coordinator.Advance(ctx, turn.ID, StateAwaitingConfirmation)
			}
		},
		OnResumedExecution: func() {
			waitingMu.Lock()
			waiting--
			last := waiting == 0
			waitingMu.Unlock()
			if last {
				e.coordinator.Advance(ctx, turn.ID, StateExecutingTools)
			}
		},
	}

	summary, err := e.executor.Execute(ctx, turn, plan,
		func() bool { return e.coordinator.Cancelled(turn.ID) }, callbacks)
	if err != nil {
		return e.failTurn(ctx, turn, ErrorCodePlanningFailed, err)
	}

	if e.coordinator.Cancelled(turn.ID) {
		// Cancel already completed the turn; results are discarded.
		return turn, nil
	}

	if ctx.Err() != nil {
		return e.failTurn(ctx, turn, ErrorCodeTurnTimeout, ctx.Err())
	}

	turn, err = e.coordinator.Advance(ctx, turn.ID, StateSpeaking)
	if err != nil {
		return turn, err
	}

	response := e.speak(ctx, turn, summary.Narrative)
	e.rememberExchange(turn.SessionID, turn.Utterance, response)

	errorCode := ""
	for _, result := range summary.Results {
		if result.Status == StepFailed {
			errorCode = result.ErrorCode
			break
		}
		if errorCode == "" && result.Status == StepRejected {
			errorCode = result.ErrorCode
		}
	}
	if err := e.coordinator.Complete(ctx, turn.ID, summary.Outcome, errorCode, response); err != nil {
		return turn, err
	}
	turn.Outcome = summary.Outcome
	turn.ErrorCode = errorCode
	return turn, nil
}

// respondDirect answers without tools, streaming straight from the model.
func (e *Engine) respondDirect(ctx context.Context, turn Turn) (Turn, error) {
	turn, err := e.coordinator.Advance(ctx, turn.ID, StateSpeaking)
	if err != nil {
		return e.failTurn(ctx, turn, ErrorCodeOrderingViolation, err)
	}

	var response string
	if e.responder != nil {
		started := e.now()
		response, err = e.responder.PromptWithStream(ctx, turn.Utterance,
			func(delta string) { e.emit(events.NewAssistantTextDelta(turn.ID, delta)) },
			llms.WithHistory(e.sessionHistory(turn.SessionID)),
		)
		e.streamHealth.Record(e.now().Sub(started), err)
		if err != nil {
			return e.failTurn(ctx, turn, ErrorCodePlanningFailed, err)
		}
		e.emit(events.NewAssistantTextFinal(turn.ID, response))
	} else {
		response = "I'm listening, but I don't have a model configured to answer with."
		e.emit(events.NewAssistantTextDelta(turn.ID, response))
		e.emit(events.NewAssistantTextFinal(turn.ID, response))
	}

	e.rememberExchange(turn.SessionID, turn.Utterance, response)
	if err := e.coordinator.Complete(ctx, turn.ID, OutcomeSuccess, "", response); err != nil {
		return turn, err
	}
	turn.Outcome = OutcomeSuccess
	return turn, nil
}

// speak narrates the execution summary, rephrasing it through the model
// when one is configured.
func (e *Engine) speak(ctx context.Context, turn Turn, narrative string) string {
	if narrative == "" {
		narrative = "Done."
	}

	if e.responder != nil {
		started := e.now()
		response, err := e.responder.PromptWithStream(ctx,
			fmt.Sprintf("Relay this outcome to the user in one or two natural sentences: %s", narrative),
			func(delta string) { e.emit(events.NewAssistantTextDelta(turn.ID, delta)) },
		)
		e.streamHealth.Record(e.now().Sub(started), err)
		if err == nil {
			e.emit(events.NewAssistantTextFinal(turn.ID, response))
			return response
		}
		logger.WarnContext(ctx, "narration failed, using plain summary", "turn_id", turn.ID, "error", err)
	}

	e.emit(events.NewAssistantTextDelta(turn.ID, narrative))
	e.emit(events.NewAssistantTextFinal(turn.ID, narrative))
	return narrative
}

func (e *Engine) failTurn(ctx context.Context, turn Turn, code string, cause error) (Turn, error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	if code == ErrorCodeTurnTimeout {
		e.gate.CancelTurn(turn.ID)
	}

	message := userFacingError(code)
	e.emit(events.NewError(turn.ID, code, message))
	if err := e.coordinator.Complete(context.WithoutCancel(ctx), turn.ID, OutcomeFailed, code, message); err != nil {
		logger.ErrorContext(ctx, "failed to record turn failure", "turn_id", turn.ID, "error", err)
	}
	turn.Outcome = OutcomeFailed
	turn.ErrorCode = code
	return turn, cause
}

func userFacingError(code string) string {
	switch code {
	case ErrorCodeUnresolvableReference:
		return "I couldn't figure out who or what you meant."
	case ErrorCodeTurnTimeout:
		return "That took too long, so I stopped."
	default:
		return "Something went wrong while handling that."
	}
}

func (e *Engine) sessionHistory(sessionID string) []llms.Exchange {
	e.mu.Lock()
	defer e.mu.Unlock()
	history := e.history[sessionID]
	copied := make([]llms.Exchange, len(history))
	copy(copied, history)
	return copied
}

func (e *Engine) rememberExchange(sessionID, userText, assistantText string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	history := append(e.history[sessionID],
		llms.Exchange{Role: llms.RoleUser, Content: userText},
		llms.Exchange{Role: llms.RoleAssistant, Content: assistantText},
	)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	e.history[sessionID] = history
}
