package events

import "time"

// Envelope is the wire frame the session gateway wraps every event in.
// Seq is strictly increasing per session connection, TurnSeq per session
// turn admission; receivers drop anything that regresses either counter.
type Envelope struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id,omitempty"`
	Seq       uint64 `json:"seq"`
	TurnSeq   uint64 `json:"turn_seq"`
	Type      Kind   `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewEnvelope wraps an event payload for the wire.
func NewEnvelope(sessionID, turnID string, seq, turnSeq uint64, event Event) Envelope {
	return Envelope{
		SessionID: sessionID,
		TurnID:    turnID,
		Seq:       seq,
		TurnSeq:   turnSeq,
		Type:      event.Kind(),
		Payload:   event,
		Timestamp: event.Timestamp().UTC().Format(time.RFC3339Nano),
	}
}
