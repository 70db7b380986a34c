package events

import "time"

const (
	// KindConfirmationRequest identifies a pending write awaiting a decision.
	KindConfirmationRequest Kind = "confirmation_request"
	// KindClarificationRequest identifies a disambiguation question.
	KindClarificationRequest Kind = "clarification_request"
)

// ConfirmationRequest surfaces a pending write action to the user. The turn
// stays in awaiting_confirmation until the request is resolved or expires.
type ConfirmationRequest struct {
	Base
	TurnID                string
	ConfirmationRequestID string
	ActionType            string
	Preview               string
	ExpiresAt             time.Time
}

// NewConfirmationRequest creates a confirmation request event.
func NewConfirmationRequest(turnID, confirmationRequestID, actionType, preview string, expiresAt time.Time) ConfirmationRequest {
	return ConfirmationRequest{
		Base:                  NewBase(KindConfirmationRequest),
		TurnID:                turnID,
		ConfirmationRequestID: confirmationRequestID,
		ActionType:            actionType,
		Preview:               preview,
		ExpiresAt:             expiresAt,
	}
}

// ClarificationRequest asks the user to pick between ambiguous candidates
// for an unresolved field. The turn suspends until answered.
type ClarificationRequest struct {
	Base
	TurnID     string
	Field      string
	Question   string
	Candidates []string
}

// NewClarificationRequest creates a clarification request event.
func NewClarificationRequest(turnID, field, question string, candidates []string) ClarificationRequest {
	return ClarificationRequest{
		Base:       NewBase(KindClarificationRequest),
		TurnID:     turnID,
		Field:      field,
		Question:   question,
		Candidates: candidates,
	}
}
