package events

// KindToolCallProgress identifies a capability invocation status change.
const KindToolCallProgress Kind = "tool_call_progress"

// ToolCallProgress reports one capability invocation moving through the
// queued/running/succeeded/failed statuses. A single tool run emits several
// of these over its lifetime, all sharing ToolRunID.
type ToolCallProgress struct {
	Base
	TurnID     string
	ToolRunID  string
	StepIndex  int
	Capability string
	Status     string
	ErrorCode  string
}

// NewToolCallProgress creates a tool call progress event.
func NewToolCallProgress(turnID, toolRunID string, stepIndex int, capability, status, errorCode string) ToolCallProgress {
	return ToolCallProgress{
		Base:       NewBase(KindToolCallProgress),
		TurnID:     turnID,
		ToolRunID:  toolRunID,
		StepIndex:  stepIndex,
		Capability: capability,
		Status:     status,
		ErrorCode:  errorCode,
	}
}
