package orchestration

// ambiguityThreshold is the classifier confidence gap above which a turn is
// routed through orchestration so the resolver can ask about it.
const ambiguityThreshold = 0.5

// SelectorInputs are the observable facts mode selection is computed from.
type SelectorInputs struct {
	// StreamingHealthy reflects recent latency and error samples for the
	// streaming provider channel.
	StreamingHealthy bool

	StepCount      int
	HasWrite       bool
	AmbiguityScore float64
	LongRunning    bool
}

// ModeDecision is the outcome of selection: the delivery pipeline and the
// execution mode, decided independently of each other.
type ModeDecision struct {
	Pipeline      Pipeline
	ExecutionMode ExecutionMode
}

// SelectMode decides how a turn is produced and delivered. It is a pure
// function of its inputs: the same inputs always produce the same decision.
//
// A turn is orchestrated when the plan has more than one step, contains any
// write action, carries ambiguity above the threshold, or is expected to be
// long-running. Everything else streams directly. Pipeline choice only
// follows channel health and never influences the execution mode.
func SelectMode(in SelectorInputs) ModeDecision {
	decision := ModeDecision{
		Pipeline:      PipelineStreaming,
		ExecutionMode: ExecutionModeDirect,
	}
	if !in.StreamingHealthy {
		decision.Pipeline = PipelineFallback
	}
	if in.StepCount > 1 || in.HasWrite || in.AmbiguityScore > ambiguityThreshold || in.LongRunning {
		decision.ExecutionMode = ExecutionModeOrchestrated
	}
	return decision
}
