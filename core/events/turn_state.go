package events

const (
	// KindTurnStart identifies the start of a new turn.
	KindTurnStart Kind = "turn_start"
	// KindStateChange identifies a turn state machine transition.
	KindStateChange Kind = "state_change"
	// KindTurnEnd identifies normal turn completion with an outcome.
	KindTurnEnd Kind = "turn_end"
	// KindTurnCancelled identifies turn cancellation (barge-in or explicit).
	KindTurnCancelled Kind = "turn_cancelled"
)

// TurnStart marks admission of a new turn.
type TurnStart struct {
	Base
	TurnID        string
	InputMode     string
	Pipeline      string
	ExecutionMode string
}

// NewTurnStart creates a turn start event.
func NewTurnStart(turnID, inputMode, pipeline, executionMode string) TurnStart {
	return TurnStart{
		Base:          NewBase(KindTurnStart),
		TurnID:        turnID,
		InputMode:     inputMode,
		Pipeline:      pipeline,
		ExecutionMode: executionMode,
	}
}

// StateChange marks a transition of the turn state machine.
type StateChange struct {
	Base
	TurnID string
	From   string
	To     string
}

// NewStateChange creates a state change event.
func NewStateChange(turnID, from, to string) StateChange {
	return StateChange{Base: NewBase(KindStateChange), TurnID: turnID, From: from, To: to}
}

// TurnEnd marks completion of a turn. Outcome is one of success, partial,
// failed or cancelled; Summary narrates what did and did not happen.
type TurnEnd struct {
	Base
	TurnID    string
	Outcome   string
	ErrorCode string
	Summary   string
}

// NewTurnEnd creates a turn end event.
func NewTurnEnd(turnID, outcome, errorCode, summary string) TurnEnd {
	return TurnEnd{Base: NewBase(KindTurnEnd), TurnID: turnID, Outcome: outcome, ErrorCode: errorCode, Summary: summary}
}

// TurnCancelled marks cancellation of the active turn.
type TurnCancelled struct {
	Base
	TurnID string
	Reason string
}

// NewTurnCancelled creates a turn cancelled event.
func NewTurnCancelled(turnID, reason string) TurnCancelled {
	return TurnCancelled{Base: NewBase(KindTurnCancelled), TurnID: turnID, Reason: reason}
}
