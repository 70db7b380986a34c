package orchestration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/junavoice/juna-core/core/capability"
)

// PlanStep is one capability invocation in a turn's plan.
type PlanStep struct {
	StepIndex  int
	Capability capability.Name
	Args       json.RawMessage

	ActionLevel          capability.ActionLevel
	RequiresConfirmation bool

	// MissingFields names arguments the planner could not fill; the resolver
	// must fill them or suspend the turn.
	MissingFields []string

	// Hints carry verbatim natural-language fragments, like time
	// expressions, that the resolver normalizes into concrete arguments.
	Hints map[string]string

	// DependsOn lists step indexes whose results feed this step. Steps with
	// no dependencies between them may run concurrently.
	DependsOn []int
}

// Plan is the ordered set of capability invocations for one turn.
type Plan struct {
	TurnID string
	Steps  []PlanStep

	// AmbiguityScore is the classifier's uncertainty about the plan, used by
	// mode selection.
	AmbiguityScore float64
}

// HasWrite reports whether any step performs a write-level action.
func (p *Plan) HasWrite() bool {
	for _, step := range p.Steps {
		if step.ActionLevel == capability.ActionWrite {
			return true
		}
	}
	return false
}

// IdempotencyKey derives the stable retry key for a step: retried attempts
// of the same step with the same arguments always produce the same key, so
// the tool router can detect and replay a prior success.
func (s *PlanStep) IdempotencyKey(turnID string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s", turnID, s.StepIndex, canonicalJSON(s.Args)))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON normalizes raw JSON so key order and whitespace do not
// change the derived idempotency key. Go marshals map keys sorted.
func canonicalJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	normalized, err := json.Marshal(decoded)
	if err != nil {
		return string(raw)
	}
	return string(normalized)
}
