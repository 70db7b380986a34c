package orchestration

import (
	"encoding/json"
	"testing"

	"github.com/junavoice/juna-core/core/capability"
)

func TestIdempotencyKeyIsStableAcrossFormatting(t *testing.T) {
	a := PlanStep{StepIndex: 0, Capability: capability.MailSend,
		Args: json.RawMessage(`{"to":"sam@acme.com","subject":"hi","body":"hello"}`)}
	b := PlanStep{StepIndex: 0, Capability: capability.MailSend,
		Args: json.RawMessage(`{ "body": "hello", "subject": "hi", "to": "sam@acme.com" }`)}

	if a.IdempotencyKey("turn-1") != b.IdempotencyKey("turn-1") {
		t.Fatal("expected key order and whitespace not to change the idempotency key")
	}
}

func TestIdempotencyKeyVaries(t *testing.T) {
	step := PlanStep{StepIndex: 0, Capability: capability.MailSend,
		Args: json.RawMessage(`{"to":"sam@acme.com"}`)}
	base := step.IdempotencyKey("turn-1")

	otherTurn := step.IdempotencyKey("turn-2")
	if otherTurn == base {
		t.Fatal("expected a different turn to produce a different key")
	}

	otherIndex := step
	otherIndex.StepIndex = 1
	if otherIndex.IdempotencyKey("turn-1") == base {
		t.Fatal("expected a different step index to produce a different key")
	}

	otherArgs := step
	otherArgs.Args = json.RawMessage(`{"to":"pat@acme.com"}`)
	if otherArgs.IdempotencyKey("turn-1") == base {
		t.Fatal("expected different arguments to produce a different key")
	}
}

func TestIdempotencyKeyEmptyArgs(t *testing.T) {
	withNil := PlanStep{StepIndex: 0, Capability: capability.ProfileGet}
	withEmpty := PlanStep{StepIndex: 0, Capability: capability.ProfileGet, Args: json.RawMessage(`{}`)}
	if withNil.IdempotencyKey("turn-1") != withEmpty.IdempotencyKey("turn-1") {
		t.Fatal("expected nil and empty-object arguments to share a key")
	}
}

func TestPlanHasWrite(t *testing.T) {
	plan := &Plan{Steps: []PlanStep{
		{Capability: capability.MailSearch, ActionLevel: capability.ActionRead},
		{Capability: capability.CalendarList, ActionLevel: capability.ActionRead},
	}}
	if plan.HasWrite() {
		t.Fatal("expected a read-only plan to report no writes")
	}

	plan.Steps = append(plan.Steps, PlanStep{Capability: capability.MailSend, ActionLevel: capability.ActionWrite})
	if !plan.HasWrite() {
		t.Fatal("expected a plan with a send step to report writes")
	}
}
