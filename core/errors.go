package orchestration

import "errors"

var (
	// ErrStaleEvent is returned for a session event whose sequence number is
	// at or below the highest one already applied.
	ErrStaleEvent = errors.New("event sequence already applied")

	// ErrTurnActive is returned when a new turn is admitted while another
	// turn in the session is still in a non-terminal state.
	ErrTurnActive = errors.New("another turn is still active")

	// ErrTurnNotFound is returned when the referenced turn is not known to
	// the coordinator.
	ErrTurnNotFound = errors.New("turn not found")

	// ErrInvalidTransition is returned when a requested state change is not
	// in the turn lifecycle.
	ErrInvalidTransition = errors.New("invalid turn state transition")

	// ErrUnresolvableReference is returned when an entity the utterance
	// refers to matches no known candidate at all.
	ErrUnresolvableReference = errors.New("reference matches no candidates")
)

// Stable error codes surfaced on turn and tool-call failures.
const (
	ErrorCodeOrderingViolation     = "ordering_violation"
	ErrorCodeTurnTimeout           = "turn_timeout"
	ErrorCodeUnresolvableReference = "unresolvable_reference"
	ErrorCodeConfirmationRejected  = "confirmation_rejected"
	ErrorCodeConfirmationExpired   = "confirmation_expired"
	ErrorCodeConfirmationFailed    = "confirmation_failed"
	ErrorCodePlanningFailed        = "planning_failed"
)
