package orchestration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/junavoice/juna-core/core/capability"
)

func buildFallbackPlan(t *testing.T, utterance string) *Plan {
	t.Helper()
	planner := NewPlanner(nil)
	plan, err := planner.BuildPlan(context.Background(), Turn{ID: "turn-1", Utterance: utterance}, nil)
	if err != nil {
		t.Fatalf("failed to build plan: %v", err)
	}
	return plan
}

func TestKeywordPlanSendEmail(t *testing.T) {
	plan := buildFallbackPlan(t, "send an email to sam@acme.com about the launch")

	if len(plan.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(plan.Steps))
	}
	step := plan.Steps[0]
	if step.Capability != capability.MailSend {
		t.Fatalf("expected %s, got %s", capability.MailSend, step.Capability)
	}
	if !step.RequiresConfirmation {
		t.Fatal("expected a mail send to require confirmation")
	}

	var args capability.MailSendArgs
	if err := json.Unmarshal(step.Args, &args); err != nil {
		t.Fatalf("failed to unmarshal args: %v", err)
	}
	if args.To != "sam@acme.com" {
		t.Fatalf("expected recipient sam@acme.com, got %q", args.To)
	}
	if args.Subject != "the launch" {
		t.Fatalf("expected subject %q, got %q", "the launch", args.Subject)
	}
	if len(step.MissingFields) != 1 || step.MissingFields[0] != "body" {
		t.Fatalf("expected only the body to be missing, got %v", step.MissingFields)
	}
}

func TestKeywordPlanReadEmail(t *testing.T) {
	plan := buildFallbackPlan(t, "check my inbox for anything from finance")

	if len(plan.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(plan.Steps))
	}
	step := plan.Steps[0]
	if step.Capability != capability.MailSearch {
		t.Fatalf("expected %s, got %s", capability.MailSearch, step.Capability)
	}
	if step.RequiresConfirmation {
		t.Fatal("expected a mail search to run without confirmation")
	}
}

func TestKeywordPlanScheduleEvent(t *testing.T) {
	plan := buildFallbackPlan(t, "schedule a sync with design tomorrow at 3pm")

	if len(plan.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(plan.Steps))
	}
	step := plan.Steps[0]
	if step.Capability != capability.CalendarCreate {
		t.Fatalf("expected %s, got %s", capability.CalendarCreate, step.Capability)
	}
	if !step.RequiresConfirmation {
		t.Fatal("expected a calendar create to require confirmation")
	}
	if step.Hints["when"] != "tomorrow at 3pm" {
		t.Fatalf("expected the time expression to pass through verbatim, got %q", step.Hints["when"])
	}
	if len(step.MissingFields) != 0 {
		t.Fatalf("expected no missing fields when a time was given, got %v", step.MissingFields)
	}

	var args capability.CalendarCreateArgs
	if err := json.Unmarshal(step.Args, &args); err != nil {
		t.Fatalf("failed to unmarshal args: %v", err)
	}
	if args.Summary != "sync with design" {
		t.Fatalf("expected summary %q, got %q", "sync with design", args.Summary)
	}
}

func TestKeywordPlanCompoundUtterance(t *testing.T) {
	plan := buildFallbackPlan(t, "send an email to alex about the report and schedule a review tomorrow at 3pm")

	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	if plan.Steps[0].Capability != capability.MailSend {
		t.Fatalf("expected first step %s, got %s", capability.MailSend, plan.Steps[0].Capability)
	}
	if plan.Steps[1].Capability != capability.CalendarCreate {
		t.Fatalf("expected second step %s, got %s", capability.CalendarCreate, plan.Steps[1].Capability)
	}
	if plan.Steps[0].StepIndex != 0 || plan.Steps[1].StepIndex != 1 {
		t.Fatalf("expected contiguous step indexes, got %d and %d", plan.Steps[0].StepIndex, plan.Steps[1].StepIndex)
	}

	var args capability.MailSendArgs
	if err := json.Unmarshal(plan.Steps[0].Args, &args); err != nil {
		t.Fatalf("failed to unmarshal args: %v", err)
	}
	if args.To != "alex" {
		t.Fatalf("expected the bare name to pass through for resolution, got %q", args.To)
	}
}

func TestKeywordPlanMemorySave(t *testing.T) {
	plan := buildFallbackPlan(t, "remember that I prefer window seats")

	if len(plan.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(plan.Steps))
	}
	step := plan.Steps[0]
	if step.Capability != capability.MemoryWrite {
		t.Fatalf("expected %s, got %s", capability.MemoryWrite, step.Capability)
	}
	if !step.RequiresConfirmation {
		t.Fatal("expected a memory write to require confirmation")
	}

	var args capability.MemoryWriteArgs
	if err := json.Unmarshal(step.Args, &args); err != nil {
		t.Fatalf("failed to unmarshal args: %v", err)
	}
	if args.Content != "I prefer window seats" {
		t.Fatalf("expected content %q, got %q", "I prefer window seats", args.Content)
	}
}

func TestKeywordPlanGeneralUtterance(t *testing.T) {
	plan := buildFallbackPlan(t, "how does photosynthesis work")

	if len(plan.Steps) != 0 {
		t.Fatalf("expected no tool steps for a general question, got %d", len(plan.Steps))
	}
	if plan.AmbiguityScore >= ambiguityThreshold {
		t.Fatalf("expected low ambiguity for a general question, got %f", plan.AmbiguityScore)
	}
}

func TestPlannerUsesClassifier(t *testing.T) {
	classifier := &fakeClassifier{classifications: map[string]turnClassification{
		"book time with pat": {
			Intents:   []detectedIntent{{Intent: "schedule_event", Summary: "time with pat", When: "friday at 2pm"}},
			Ambiguity: 0.6,
		},
	}}
	planner := NewPlanner(classifier)

	plan, err := planner.BuildPlan(context.Background(), Turn{ID: "turn-1", Utterance: "book time with pat"}, nil)
	if err != nil {
		t.Fatalf("failed to build plan: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Capability != capability.CalendarCreate {
		t.Fatalf("expected a single calendar create step, got %+v", plan.Steps)
	}
	if plan.AmbiguityScore != 0.6 {
		t.Fatalf("expected the classifier's ambiguity to pass through, got %f", plan.AmbiguityScore)
	}
}

func TestPlannerFallsBackWhenClassifierFails(t *testing.T) {
	// No classifications registered, so every prompt errors.
	planner := NewPlanner(&fakeClassifier{})

	plan, err := planner.BuildPlan(context.Background(), Turn{ID: "turn-1", Utterance: "check my inbox"}, nil)
	if err != nil {
		t.Fatalf("failed to build plan: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Capability != capability.MailSearch {
		t.Fatalf("expected the keyword fallback to plan a mail search, got %+v", plan.Steps)
	}
}
