package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/junavoice/juna-core/core/events"
	"github.com/junavoice/juna-core/internal/store"
	"github.com/junavoice/juna-core/internal/utils"
)

// TurnStore persists the turn lifecycle. Every state change is written
// before it is acknowledged to the caller.
type TurnStore interface {
	CreateTurn(record store.TurnRecord) error
	UpdateTurnState(turnID, state string) error
	UpdateTurnModes(turnID, pipeline, executionMode string) error
	CompleteTurn(turnID, state, outcome, errorCode string, endedAt time.Time) error
	GetTurnByRequestKey(requestKey string) (*store.TurnRecord, error)
	LastTurnSeq(sessionID string) (uint64, error)
}

// StartTurnRequest describes a turn to admit.
type StartTurnRequest struct {
	SessionID string
	ThreadID  string
	Identity  string

	// RequestKey deduplicates retried admissions; a repeated key returns the
	// already-admitted turn without side effects.
	RequestKey string
	InputMode  InputMode
	Utterance  string
}

// Coordinator owns turn admission, the per-turn state machine, and
// session-scoped event ordering. All mutations go through the session lock,
// so admission for one session is strictly serialized.
type Coordinator struct {
	turns TurnStore
	emit  eventEmitter
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
	byTurn   map[string]turnRef
	ended    []string
}

type turnRef struct {
	session   *sessionState
	turnSeq   uint64
	cancelled bool
}

// endedTurnRetention caps how many ended turns stay routable. The tail keeps
// draining executors and late event fan-out working after completion without
// letting byTurn grow forever.
const endedTurnRetention = 128

type sessionState struct {
	mu        sync.Mutex
	sessionID string

	active       *Turn
	lastTurnSeq  uint64
	lastEventSeq uint64
	seqSeeded    bool
}

// NewCoordinator builds a coordinator over the given turn store.
func NewCoordinator(turns TurnStore, emit eventEmitter, now func() time.Time) *Coordinator {
	if emit == nil {
		emit = noopEventEmitter
	}
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		turns:    turns,
		emit:     emit,
		now:      now,
		sessions: map[string]*sessionState{},
		byTurn:   map[string]turnRef{},
	}
}

func (c *Coordinator) session(sessionID string) *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[sessionID]
	if !ok {
		session = &sessionState{sessionID: sessionID}
		c.sessions[sessionID] = session
	}
	return session
}

// AdmitEvent enforces session-scoped ordering: an event whose sequence
// number is at or below the highest already applied is rejected with
// ErrStaleEvent and must not mutate state.
func (c *Coordinator) AdmitEvent(sessionID string, seq uint64) error {
	session := c.session(sessionID)
	session.mu.Lock()
	defer session.mu.Unlock()
	if seq <= session.lastEventSeq {
		return fmt.Errorf("%w: seq %d, already at %d", ErrStaleEvent, seq, session.lastEventSeq)
	}
	session.lastEventSeq = seq
	return nil
}

// StartTurn admits a new turn for the session. The returned bool is false
// when the request key matched an already-admitted turn, in which case that
// turn is returned and nothing was persisted or emitted.
func (c *Coordinator) StartTurn(ctx context.Context, req StartTurnRequest) (Turn, bool, error) {
	ctx, span := tracer.Start(ctx, "start turn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	session := c.session(req.SessionID)
	session.mu.Lock()
	defer session.mu.Unlock()

	if req.RequestKey != "" {
		existing, err := c.turns.GetTurnByRequestKey(req.RequestKey)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Turn{}, false, fmt.Errorf("look up request key: %w", err)
		}
		if existing != nil {
			span.AddEvent("duplicate admission")
			return turnFromRecord(existing), false, nil
		}
	}

	if session.active != nil && !session.active.Terminal() {
		return Turn{}, false, fmt.Errorf("%w: turn %s is %s", ErrTurnActive, session.active.ID, session.active.State)
	}

	if !session.seqSeeded {
		last, err := c.turns.LastTurnSeq(req.SessionID)
		if err != nil {
			return Turn{}, false, fmt.Errorf("seed turn sequence: %w", err)
		}
		session.lastTurnSeq = last
		session.seqSeeded = true
	}

	initialState := StateThinking
	if req.InputMode == InputModeVoice {
		initialState = StateListening
	}

	turn := &Turn{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		ThreadID:  req.ThreadID,
		Identity:  req.Identity,
		InputMode: req.InputMode,
		State:     initialState,
		TurnSeq:   session.lastTurnSeq + 1,
		Utterance: req.Utterance,
		StartedAt: c.now(),
	}

	if err := c.turns.CreateTurn(store.TurnRecord{
		TurnID:     turn.ID,
		SessionID:  turn.SessionID,
		ThreadID:   turn.ThreadID,
		RequestKey: req.RequestKey,
		InputMode:  string(turn.InputMode),
		State:      string(turn.State),
		TurnSeq:    turn.TurnSeq,
		StartedAt:  turn.StartedAt,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Turn{}, false, fmt.Errorf("persist turn: %w", err)
	}

	session.lastTurnSeq = turn.TurnSeq
	session.active = turn
	c.mu.Lock()
	c.byTurn[turn.ID] = turnRef{session: session, turnSeq: turn.TurnSeq}
	c.mu.Unlock()

	span.SetAttributes(attribute.String("turn.id", turn.ID))
	c.emit(events.NewTurnStart(turn.ID, string(turn.InputMode), "", ""))
	return turn.Snapshot(), true, nil
}

func (c *Coordinator) turnSession(turnID string) (*sessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.byTurn[turnID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	return ref.session, nil
}

// Advance moves the turn to a new lifecycle state. The transition is
// validated, persisted, and only then emitted and acknowledged.
func (c *Coordinator) Advance(ctx context.Context, turnID string, to TurnState) (Turn, error) {
	session, err := c.turnSession(turnID)
	if err != nil {
		return Turn{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	turn := session.active
	if turn == nil || turn.ID != turnID {
		return Turn{}, fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}

	from := turn.State
	if from == to {
		return turn.Snapshot(), nil
	}
	if !CanTransition(from, to) {
		return Turn{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if err := c.turns.UpdateTurnState(turnID, string(to)); err != nil {
		return Turn{}, fmt.Errorf("persist state change: %w", err)
	}
	turn.State = to
	c.emit(events.NewStateChange(turnID, string(from), string(to)))
	return turn.Snapshot(), nil
}

// SetModes records the pipeline and execution mode chosen for the turn.
func (c *Coordinator) SetModes(ctx context.Context, turnID string, pipeline Pipeline, mode ExecutionMode) error {
	session, err := c.turnSession(turnID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	turn := session.active
	if turn == nil || turn.ID != turnID {
		return fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}

	if err := c.turns.UpdateTurnModes(turnID, string(pipeline), string(mode)); err != nil {
		return fmt.Errorf("persist turn modes: %w", err)
	}
	turn.Pipeline = pipeline
	turn.ExecutionMode = mode
	return nil
}

// Complete finishes the turn with an outcome, moving it to its terminal
// state. Completing an already-terminal turn is a no-op.
func (c *Coordinator) Complete(ctx context.Context, turnID string, outcome Outcome, errorCode, summary string) error {
	session, err := c.turnSession(turnID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	turn := session.active
	if turn == nil || turn.ID != turnID {
		return fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	if turn.Terminal() {
		return nil
	}

	terminal := StateIdle
	if outcome == OutcomeFailed {
		terminal = StateErrorTerminal
	}

	endedAt := c.now()
	if err := c.turns.CompleteTurn(turnID, string(terminal), string(outcome), errorCode, endedAt); err != nil {
		return fmt.Errorf("persist turn completion: %w", err)
	}

	from := turn.State
	turn.State = terminal
	turn.Outcome = outcome
	turn.ErrorCode = errorCode
	turn.EndedAt = utils.Ptr(endedAt)

	c.emit(events.NewStateChange(turnID, string(from), string(terminal)))
	c.emit(events.NewTurnEnd(turnID, string(outcome), errorCode, summary))
	c.retire(turnID, false)
	return nil
}

// Cancel marks the turn cancelled. In-flight work observes this through the
// cancelled state; already-terminal turns are left alone.
func (c *Coordinator) Cancel(ctx context.Context, turnID, reason string) error {
	session, err := c.turnSession(turnID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	turn := session.active
	if turn == nil || turn.ID != turnID {
		return fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	if turn.Terminal() {
		return nil
	}

	endedAt := c.now()
	if err := c.turns.CompleteTurn(turnID, string(StateCancelled), string(OutcomeCancelled), "", endedAt); err != nil {
		return fmt.Errorf("persist cancellation: %w", err)
	}

	from := turn.State
	turn.State = StateCancelled
	turn.Outcome = OutcomeCancelled
	turn.EndedAt = utils.Ptr(endedAt)

	c.emit(events.NewStateChange(turnID, string(from), string(StateCancelled)))
	c.emit(events.NewTurnCancelled(turnID, reason))
	c.emit(events.NewTurnEnd(turnID, string(OutcomeCancelled), "", ""))
	c.retire(turnID, true)
	return nil
}

// retire records the turn as ended, marking it cancelled when asked, and
// prunes routing entries past the retention window.
func (c *Coordinator) retire(turnID string, cancelled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref, ok := c.byTurn[turnID]; ok && cancelled {
		ref.cancelled = true
		c.byTurn[turnID] = ref
	}
	c.ended = append(c.ended, turnID)
	for len(c.ended) > endedTurnRetention {
		delete(c.byTurn, c.ended[0])
		c.ended = c.ended[1:]
	}
}

// TurnInfo reports which session a turn belongs to and its admission
// sequence, for transports that route turn events back to connections. It
// deliberately avoids the session lock so event handlers may call it while
// an emit is in progress.
func (c *Coordinator) TurnInfo(turnID string) (sessionID string, turnSeq uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, found := c.byTurn[turnID]
	if !found {
		return "", 0, false
	}
	return ref.session.sessionID, ref.turnSeq, true
}

// Active returns a snapshot of the session's active turn, if any.
func (c *Coordinator) Active(sessionID string) (Turn, bool) {
	session := c.session(sessionID)
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.active == nil || session.active.Terminal() {
		return Turn{}, false
	}
	return session.active.Snapshot(), true
}

// Cancelled reports whether the turn has been cancelled. Executors poll this
// between steps so in-flight provider calls drain instead of being torn down.
// The flag is tracked per turn: it stays set while a later turn is admitted
// in the same session and the cancelled plan is still draining.
func (c *Coordinator) Cancelled(turnID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byTurn[turnID].cancelled
}

func turnFromRecord(record *store.TurnRecord) Turn {
	return Turn{
		ID:            record.TurnID,
		SessionID:     record.SessionID,
		ThreadID:      record.ThreadID,
		InputMode:     InputMode(record.InputMode),
		Pipeline:      Pipeline(record.Pipeline),
		ExecutionMode: ExecutionMode(record.ExecutionMode),
		State:         TurnState(record.State),
		TurnSeq:       record.TurnSeq,
		Outcome:       Outcome(record.Outcome),
		ErrorCode:     record.ErrorCode,
		StartedAt:     record.StartedAt,
		EndedAt:       record.EndedAt,
	}
}
