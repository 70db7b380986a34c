package orchestration

import (
	"time"

	"github.com/jinzhu/copier"

	"github.com/junavoice/juna-core/internal/utils"
)

// TurnState is a stage in the turn lifecycle.
type TurnState string

const (
	StateIdle                 TurnState = "idle"
	StateListening            TurnState = "listening"
	StateFinalizingInput      TurnState = "finalizing_input"
	StateThinking             TurnState = "thinking"
	StateExecutingTools       TurnState = "executing_tools"
	StateAwaitingConfirmation TurnState = "awaiting_confirmation"
	StateSpeaking             TurnState = "speaking"
	StateCancelled            TurnState = "cancelled"
	StateErrorRecoverable     TurnState = "error_recoverable"
	StateErrorTerminal        TurnState = "error_terminal"
)

// InputMode is how the turn's input arrived.
type InputMode string

const (
	InputModeVoice InputMode = "voice"
	InputModeText  InputMode = "text"
)

// Pipeline is the response delivery channel chosen for the turn.
type Pipeline string

const (
	PipelineStreaming Pipeline = "streaming"
	PipelineFallback  Pipeline = "fallback"
)

// ExecutionMode is how the turn's response is produced.
type ExecutionMode string

const (
	// ExecutionModeDirect streams a model response with no tool plan.
	ExecutionModeDirect ExecutionMode = "direct"
	// ExecutionModeOrchestrated runs a tool plan before responding.
	ExecutionModeOrchestrated ExecutionMode = "orchestrated"
)

// Outcome is the final disposition of a turn.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Turn is one user-assistant exchange tracked by the coordinator.
type Turn struct {
	ID        string
	SessionID string
	ThreadID  string
	Identity  string

	InputMode     InputMode
	Pipeline      Pipeline
	ExecutionMode ExecutionMode

	State     TurnState
	TurnSeq   uint64
	Utterance string

	Outcome   Outcome
	ErrorCode string

	StartedAt time.Time
	EndedAt   *time.Time
}

// Snapshot returns a deep copy safe to hand outside the coordinator's lock.
func (t *Turn) Snapshot() Turn {
	snapshot := Turn{}
	if err := copier.CopyWithOption(&snapshot, t, copier.Option{DeepCopy: true}); err != nil {
		snapshot = *t
	}
	// copier aliases pointer fields even in deep-copy mode; EndedAt must not
	// share storage with the live turn.
	if t.EndedAt != nil {
		snapshot.EndedAt = utils.Ptr(*t.EndedAt)
	}
	return snapshot
}

// Terminal reports whether the turn can no longer change state.
func (t *Turn) Terminal() bool {
	switch t.State {
	case StateIdle, StateCancelled, StateErrorTerminal:
		return true
	}
	return false
}

var validTransitions = map[TurnState][]TurnState{
	StateListening:            {StateFinalizingInput, StateCancelled, StateErrorRecoverable, StateErrorTerminal},
	StateFinalizingInput:      {StateThinking, StateCancelled, StateErrorRecoverable, StateErrorTerminal},
	StateThinking:             {StateExecutingTools, StateSpeaking, StateCancelled, StateErrorRecoverable, StateErrorTerminal},
	StateExecutingTools:       {StateAwaitingConfirmation, StateSpeaking, StateCancelled, StateErrorRecoverable, StateErrorTerminal},
	StateAwaitingConfirmation: {StateExecutingTools, StateSpeaking, StateCancelled, StateErrorRecoverable, StateErrorTerminal},
	StateSpeaking:             {StateIdle, StateCancelled, StateErrorRecoverable, StateErrorTerminal},
	StateErrorRecoverable:     {StateThinking, StateSpeaking, StateCancelled, StateErrorTerminal},
}

// CanTransition reports whether the lifecycle permits moving from one state
// to another.
func CanTransition(from, to TurnState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
