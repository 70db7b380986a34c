package events

const (
	// KindAssistantTextDelta identifies a streamed response text segment.
	KindAssistantTextDelta Kind = "assistant_text_delta"
	// KindAssistantTextFinal identifies the terminal response text.
	KindAssistantTextFinal Kind = "assistant_text_final"
	// KindError identifies a turn-level failure surfaced to the client.
	KindError Kind = "error"
)

// AssistantTextDelta carries an append-only response text segment.
type AssistantTextDelta struct {
	Base
	TurnID string
	Delta  string
}

// NewAssistantTextDelta creates an assistant text delta event.
func NewAssistantTextDelta(turnID, delta string) AssistantTextDelta {
	return AssistantTextDelta{Base: NewBase(KindAssistantTextDelta), TurnID: turnID, Delta: delta}
}

// AssistantTextFinal carries the full assembled response text.
type AssistantTextFinal struct {
	Base
	TurnID string
	Text   string
}

// NewAssistantTextFinal creates an assistant text final event.
func NewAssistantTextFinal(turnID, text string) AssistantTextFinal {
	return AssistantTextFinal{Base: NewBase(KindAssistantTextFinal), TurnID: turnID, Text: text}
}

// Error surfaces a turn-level failure to the client.
type Error struct {
	Base
	TurnID  string
	Code    string
	Message string
}

// NewError creates an error event.
func NewError(turnID, code, message string) Error {
	return Error{Base: NewBase(KindError), TurnID: turnID, Code: code, Message: message}
}
