package gateway

import "encoding/json"

// Client message types. Raw audio travels as binary websocket frames and
// needs no type tag; everything else is a JSON text frame.
const (
	TypeTextInput       = "text_input"
	TypeAudioEnd        = "audio_end"
	TypeConfirmResponse = "confirm_response"
	TypeClarifyResponse = "clarify_response"
	TypeInterrupt       = "interrupt"
)

// ClientMessage is one inbound JSON frame. Seq orders frames within the
// session; a frame at or below the highest applied sequence is dropped and
// answered with an ordering_violation error.
type ClientMessage struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`

	// RequestKey deduplicates retried text_input frames.
	RequestKey string `json:"request_key,omitempty"`
	Text       string `json:"text,omitempty"`

	ConfirmationRequestID string          `json:"confirmation_request_id,omitempty"`
	Action                string          `json:"action,omitempty"`
	EditedArgs            json.RawMessage `json:"edited_args,omitempty"`

	Answer string `json:"answer,omitempty"`
	Reason string `json:"reason,omitempty"`
}
