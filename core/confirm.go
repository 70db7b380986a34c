package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/junavoice/juna-core/core/events"
	"github.com/junavoice/juna-core/internal/store"
)

// DecisionAction is how a confirmation request was resolved.
type DecisionAction string

const (
	DecisionAccepted DecisionAction = "accepted"
	DecisionRejected DecisionAction = "rejected"
	DecisionEdited   DecisionAction = "edited"
	DecisionExpired  DecisionAction = "expired"
)

// Decision is the resolution of one confirmation request.
type Decision struct {
	Action DecisionAction

	// EditedArgs replace the step's arguments when Action is DecisionEdited.
	EditedArgs json.RawMessage
}

// ConfirmationStore persists confirmation requests and their resolutions.
type ConfirmationStore interface {
	CreateConfirmation(record store.ConfirmationRecord) error
	ResolveConfirmation(confirmationRequestID, status string, editedArgs json.RawMessage, resolvedAt time.Time) error
	GetConfirmation(confirmationRequestID string) (*store.ConfirmationRecord, error)
}

type pendingConfirmation struct {
	turnID string
	done   chan Decision
	timer  *time.Timer
}

// ConfirmationGate holds write-level steps until the user accepts, rejects
// or edits them. Every request expires on its own timer; a request resolves
// exactly once, whichever of decision and expiry comes first.
type ConfirmationGate struct {
	confirmations ConfirmationStore
	emit          eventEmitter
	timeout       time.Duration
	now           func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingConfirmation
}

// NewConfirmationGate builds a gate with the given expiry timeout.
func NewConfirmationGate(confirmations ConfirmationStore, emit eventEmitter, timeout time.Duration, now func() time.Time) *ConfirmationGate {
	if emit == nil {
		emit = noopEventEmitter
	}
	if now == nil {
		now = time.Now
	}
	return &ConfirmationGate{
		confirmations: confirmations,
		emit:          emit,
		timeout:       timeout,
		now:           now,
		pending:       map[string]*pendingConfirmation{},
	}
}

// Request persists a pending confirmation, surfaces it as an event, and
// returns the channel the decision will arrive on.
func (g *ConfirmationGate) Request(ctx context.Context, turnID string, step PlanStep, preview string) (string, <-chan Decision, error) {
	id := uuid.NewString()
	createdAt := g.now()
	expiresAt := createdAt.Add(g.timeout)

	if err := g.confirmations.CreateConfirmation(store.ConfirmationRecord{
		ConfirmationRequestID: id,
		TurnID:                turnID,
		StepIndex:             step.StepIndex,
		ActionType:            string(step.Capability),
		Preview:               preview,
		Status:                "pending",
		CreatedAt:             createdAt,
		ExpiresAt:             expiresAt,
	}); err != nil {
		return "", nil, fmt.Errorf("persist confirmation request: %w", err)
	}

	request := &pendingConfirmation{
		turnID: turnID,
		done:   make(chan Decision, 1),
	}
	request.timer = time.AfterFunc(g.timeout, func() {
		g.resolve(id, Decision{Action: DecisionExpired})
	})

	g.mu.Lock()
	g.pending[id] = request
	g.mu.Unlock()

	g.emit(events.NewConfirmationRequest(turnID, id, string(step.Capability), preview, expiresAt))
	return id, request.done, nil
}

// Resolve applies the user's decision. Resolving an unknown or
// already-resolved request is an error; an expired request reports that it
// expired.
func (g *ConfirmationGate) Resolve(confirmationRequestID string, action DecisionAction, editedArgs json.RawMessage) error {
	if action != DecisionAccepted && action != DecisionRejected && action != DecisionEdited {
		return fmt.Errorf("unsupported confirmation action: %s", action)
	}
	return g.resolve(confirmationRequestID, Decision{Action: action, EditedArgs: editedArgs})
}

func (g *ConfirmationGate) resolve(confirmationRequestID string, decision Decision) error {
	g.mu.Lock()
	request, ok := g.pending[confirmationRequestID]
	if ok {
		delete(g.pending, confirmationRequestID)
	}
	g.mu.Unlock()

	if !ok {
		record, err := g.confirmations.GetConfirmation(confirmationRequestID)
		if err != nil {
			return fmt.Errorf("unknown confirmation request %s: %w", confirmationRequestID, err)
		}
		return fmt.Errorf("confirmation request %s already %s", confirmationRequestID, record.Status)
	}

	request.timer.Stop()

	// The pending-only guard in the store makes the first resolution win
	// even if a decision and the expiry race here.
	if err := g.confirmations.ResolveConfirmation(confirmationRequestID, string(decision.Action), decision.EditedArgs, g.now()); err != nil {
		return fmt.Errorf("persist confirmation decision: %w", err)
	}

	request.done <- decision
	return nil
}

// CancelTurn expires every pending request belonging to the turn, used when
// the turn itself is cancelled or times out.
func (g *ConfirmationGate) CancelTurn(turnID string) {
	g.mu.Lock()
	ids := []string{}
	for id, request := range g.pending {
		if request.turnID == turnID {
			ids = append(ids, id)
		}
	}
	g.mu.Unlock()

	for _, id := range ids {
		g.resolve(id, Decision{Action: DecisionExpired})
	}
}
