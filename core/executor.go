package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/junavoice/juna-core/core/capability"
	"github.com/junavoice/juna-core/core/events"
	"github.com/junavoice/juna-core/core/router"
)

// ToolInvoker dispatches capability invocations. Satisfied by
// *router.Router.
type ToolInvoker interface {
	Invoke(ctx context.Context, name capability.Name, args json.RawMessage, identity, turnID string, stepIndex int, idempotencyKey string) (*router.Result, error)
}

// StepStatus is the final status of one executed plan step.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepRejected  StepStatus = "rejected"
)

// StepResult is the outcome of one plan step.
type StepResult struct {
	StepIndex  int
	Capability capability.Name
	Status     StepStatus
	Payload    json.RawMessage
	ErrorCode  string
}

// ExecutionSummary aggregates a plan run: per-step results, the turn
// outcome they add up to, and a narrative covering what did and did not
// happen.
type ExecutionSummary struct {
	Results   []StepResult
	Outcome   Outcome
	Narrative string
}

// ExecutorCallbacks let the engine mirror execution progress onto the turn
// state machine.
type ExecutorCallbacks struct {
	// OnAwaitingConfirmation fires when a write step starts waiting on the
	// user; OnResumedExecution fires when the wait ends.
	OnAwaitingConfirmation func()
	OnResumedExecution     func()
}

// Executor runs a resolved plan. Steps with no dependency between them run
// concurrently; a gated write blocks only its own dependents. Transient
// failures retry with bounded backoff under the same idempotency key.
type Executor struct {
	tools ToolInvoker
	gate  *ConfirmationGate
	emit  eventEmitter

	maxAttempts int
	backoffBase time.Duration
}

// ExecutorOption configures the executor.
type ExecutorOption func(*Executor)

// WithMaxAttempts bounds per-step attempts, including the first.
func WithMaxAttempts(attempts int) ExecutorOption {
	return func(e *Executor) { e.maxAttempts = attempts }
}

// WithBackoffBase sets the first retry delay; later retries double it.
func WithBackoffBase(base time.Duration) ExecutorOption {
	return func(e *Executor) { e.backoffBase = base }
}

// NewExecutor builds an executor over the tool invoker and gate.
func NewExecutor(tools ToolInvoker, gate *ConfirmationGate, emit eventEmitter, opts ...ExecutorOption) *Executor {
	if emit == nil {
		emit = noopEventEmitter
	}
	e := &Executor{
		tools:       tools,
		gate:        gate,
		emit:        emit,
		maxAttempts: 3,
		backoffBase: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every step of the plan and reports the aggregate outcome.
// cancelled is polled between steps: once it reports true, steps not yet
// started are skipped while in-flight invocations drain.
func (e *Executor) Execute(ctx context.Context, turn Turn, plan *Plan, cancelled func() bool, callbacks ExecutorCallbacks) (*ExecutionSummary, error) {
	ctx, span := tracer.Start(ctx, "execute plan")
	defer span.End()
	span.SetAttributes(attribute.Int("plan.steps", len(plan.Steps)))

	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	results := make([]StepResult, len(plan.Steps))
	stepDone := make([]chan struct{}, len(plan.Steps))
	for i := range stepDone {
		stepDone[i] = make(chan struct{})
	}

	var wg sync.WaitGroup
	for i := range plan.Steps {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer close(stepDone[index])
			results[index] = e.runStep(ctx, turn, plan.Steps[index], results, stepDone, cancelled, callbacks)
		}(i)
	}
	wg.Wait()

	summary := &ExecutionSummary{
		Results:   results,
		Outcome:   aggregateOutcome(results),
		Narrative: narrate(results),
	}
	span.SetAttributes(attribute.String("turn.outcome", string(summary.Outcome)))
	if summary.Outcome == OutcomeFailed {
		span.SetStatus(codes.Error, summary.Narrative)
	}
	return summary, nil
}

func (e *Executor) runStep(ctx context.Context, turn Turn, step PlanStep, results []StepResult, stepDone []chan struct{}, cancelled func() bool, callbacks ExecutorCallbacks) StepResult {
	result := StepResult{StepIndex: step.StepIndex, Capability: step.Capability}

	for _, dep := range step.DependsOn {
		select {
		case <-stepDone[dep]:
			if results[dep].Status != StepSucceeded {
				result.Status = StepSkipped
				result.ErrorCode = results[dep].ErrorCode
				return result
			}
		case <-ctx.Done():
			result.Status = StepSkipped
			result.ErrorCode = ErrorCodeTurnTimeout
			return result
		}
	}

	if cancelled() {
		result.Status = StepSkipped
		return result
	}

	args := step.Args
	if step.RequiresConfirmation {
		decision, errorCode := e.awaitConfirmation(ctx, turn, step, callbacks)
		switch {
		case errorCode != "":
			result.Status = StepFailed
			result.ErrorCode = errorCode
			return result
		case decision.Action == DecisionRejected:
			result.Status = StepRejected
			result.ErrorCode = ErrorCodeConfirmationRejected
			return result
		case decision.Action == DecisionExpired:
			result.Status = StepRejected
			result.ErrorCode = ErrorCodeConfirmationExpired
			return result
		case decision.Action == DecisionEdited:
			args = decision.EditedArgs
		}
		if cancelled() {
			result.Status = StepSkipped
			return result
		}
	}

	// The key covers the arguments actually executed, so an edited step
	// retries under its own key while plain retries replay the original.
	keyed := step
	keyed.Args = args
	key := keyed.IdempotencyKey(turn.ID)

	e.emit(events.NewToolCallProgress(turn.ID, "", step.StepIndex, string(step.Capability), "running", ""))

	invocation, err := e.invokeWithRetry(ctx, turn, step, args, key)
	if err != nil {
		result.Status = StepFailed
		result.ErrorCode = capability.ErrorCode(err)
		e.emit(events.NewToolCallProgress(turn.ID, "", step.StepIndex, string(step.Capability), "failed", result.ErrorCode))
		return result
	}

	result.Status = StepSucceeded
	result.Payload = invocation.Payload
	e.emit(events.NewToolCallProgress(turn.ID, invocation.ToolRunID, step.StepIndex, string(step.Capability), "succeeded", ""))
	return result
}

func (e *Executor) awaitConfirmation(ctx context.Context, turn Turn, step PlanStep, callbacks ExecutorCallbacks) (Decision, string) {
	if callbacks.OnAwaitingConfirmation != nil {
		callbacks.OnAwaitingConfirmation()
	}
	defer func() {
		if callbacks.OnResumedExecution != nil {
			callbacks.OnResumedExecution()
		}
	}()

	_, decisionCh, err := e.gate.Request(ctx, turn.ID, step, previewStep(step))
	if err != nil {
		logger.ErrorContext(ctx, "failed to open confirmation request", "turn_id", turn.ID, "error", err)
		return Decision{}, ErrorCodeConfirmationFailed
	}

	select {
	case decision := <-decisionCh:
		return decision, ""
	case <-ctx.Done():
		return Decision{}, ErrorCodeTurnTimeout
	}
}

func (e *Executor) invokeWithRetry(ctx context.Context, turn Turn, step PlanStep, args json.RawMessage, key string) (*router.Result, error) {
	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := e.backoffBase << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, capability.NewTransientError(ErrorCodeTurnTimeout, "turn deadline reached while retrying")
			}
		}

		result, err := e.tools.Invoke(ctx, step.Capability, args, turn.Identity, turn.ID, step.StepIndex, key)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !capability.IsTransient(err) {
			return nil, err
		}
		logger.WarnContext(ctx, "transient capability failure, retrying",
			"capability", string(step.Capability), "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func aggregateOutcome(results []StepResult) Outcome {
	var succeeded, failed, skipped, rejected int
	for _, result := range results {
		switch result.Status {
		case StepSucceeded:
			succeeded++
		case StepFailed:
			failed++
		case StepSkipped:
			skipped++
		case StepRejected:
			rejected++
		}
	}

	// A rejection with no successes counts as failed: the turn produced
	// nothing, even though the step results keep the distinction.
	switch {
	case failed == 0 && skipped == 0 && rejected == 0:
		return OutcomeSuccess
	case succeeded > 0:
		return OutcomePartial
	default:
		return OutcomeFailed
	}
}

var capabilityPhrases = map[capability.Name]string{
	capability.MailSearch:     "search your mail",
	capability.MailSend:       "send the email",
	capability.MailDraftReply: "draft the reply",
	capability.CalendarList:   "check your calendar",
	capability.CalendarBusy:   "check your availability",
	capability.CalendarCreate: "create the event",
	capability.MemorySearch:   "search your notes",
	capability.MemoryWrite:    "save that",
	capability.ProfileGet:     "look up your profile",
}

// narrate covers both what happened and what did not, in plan order.
func narrate(results []StepResult) string {
	sentences := []string{}
	for _, result := range results {
		phrase, ok := capabilityPhrases[result.Capability]
		if !ok {
			phrase = fmt.Sprintf("run %s", result.Capability)
		}
		switch result.Status {
		case StepSucceeded:
			sentences = append(sentences, fmt.Sprintf("I was able to %s.", phrase))
		case StepFailed:
			sentences = append(sentences, fmt.Sprintf("I couldn't %s (%s).", phrase, result.ErrorCode))
		case StepSkipped:
			sentences = append(sentences, fmt.Sprintf("I didn't %s because an earlier step didn't finish.", phrase))
		case StepRejected:
			if result.ErrorCode == ErrorCodeConfirmationExpired {
				sentences = append(sentences, fmt.Sprintf("The request to %s expired without an answer.", phrase))
			} else {
				sentences = append(sentences, fmt.Sprintf("I didn't %s, as you asked.", phrase))
			}
		}
	}
	return strings.Join(sentences, " ")
}

// previewStep renders what a write will do so the user can judge it.
func previewStep(step PlanStep) string {
	switch step.Capability {
	case capability.MailSend:
		var args capability.MailSendArgs
		if err := json.Unmarshal(step.Args, &args); err == nil {
			return fmt.Sprintf("Send email to %s with subject %q: %s", args.To, args.Subject, args.Body)
		}
	case capability.CalendarCreate:
		var args capability.CalendarCreateArgs
		if err := json.Unmarshal(step.Args, &args); err == nil {
			return fmt.Sprintf("Create event %q from %s to %s (%s)", args.Summary, args.Start, args.End, args.Timezone)
		}
	case capability.MemoryWrite:
		var args capability.MemoryWriteArgs
		if err := json.Unmarshal(step.Args, &args); err == nil {
			return fmt.Sprintf("Remember: %s", args.Content)
		}
	}
	return fmt.Sprintf("Run %s with %s", step.Capability, string(step.Args))
}
