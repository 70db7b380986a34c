// Package events defines the typed engine event contract.
//
// Event kinds match the canonical names of the client-facing stream:
//
//   - turn_start / state_change / turn_end / turn_cancelled: turn lifecycle.
//   - tool_call_progress: one capability invocation changing status.
//   - confirmation_request: a pending write awaiting the user's decision.
//   - clarification_request: a disambiguation question suspending the turn.
//   - assistant_text_delta / assistant_text_final: streamed response text.
//   - error: a turn-level failure surfaced to the client.
//
// Events carry only their payload; the session gateway wraps them in an
// Envelope that adds session_id, turn_id and the monotonic seq/turn_seq
// counters before they reach the wire.
package events
