package orchestration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/junavoice/juna-core/core/capability"
)

// Clarification asks the user to choose between candidates, or supply a
// value, for one unresolved field of a plan step. The turn suspends until
// it is answered.
type Clarification struct {
	StepIndex  int
	Field      string
	Question   string
	Candidates []string
}

// Resolver fills ambiguous or missing plan arguments before execution.
// Candidate retrieval only ever uses read-level capabilities, so resolution
// can never cause side effects.
type Resolver struct {
	tools       ToolInvoker
	location    *time.Location
	eventLength time.Duration
	now         func() time.Time
}

// ResolverOption configures the resolver.
type ResolverOption func(*Resolver)

// WithTimezone sets the timezone relative time expressions resolve in.
func WithTimezone(loc *time.Location) ResolverOption {
	return func(r *Resolver) { r.location = loc }
}

// WithDefaultEventLength sets the event duration used when the utterance
// does not state one.
func WithDefaultEventLength(length time.Duration) ResolverOption {
	return func(r *Resolver) { r.eventLength = length }
}

// WithResolverClock overrides the resolver's time source.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver builds a resolver over the given tool invoker.
func NewResolver(tools ToolInvoker, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		tools:       tools,
		location:    time.UTC,
		eventLength: 30 * time.Minute,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fills what it can in place. Exactly one candidate fills the field
// silently; zero candidates fail the step with ErrUnresolvableReference;
// several candidates return a Clarification and leave the plan untouched
// beyond already-resolved fields. Only the first open question is returned.
func (r *Resolver) Resolve(ctx context.Context, turn Turn, plan *Plan) (*Clarification, error) {
	ctx, span := tracer.Start(ctx, "resolve plan")
	defer span.End()

	for i := range plan.Steps {
		step := &plan.Steps[i]

		var (
			clarification *Clarification
			err           error
		)
		switch step.Capability {
		case capability.MailSend:
			clarification, err = r.resolveMailSend(ctx, turn, step)
		case capability.CalendarCreate:
			clarification, err = r.resolveCalendarCreate(step)
		case capability.CalendarList, capability.CalendarBusy:
			err = r.resolveCalendarWindow(step)
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if clarification != nil {
			span.SetAttributes(attribute.String("clarification.field", clarification.Field))
			return clarification, nil
		}
	}
	return nil, nil
}

// ApplyAnswer folds a clarification answer back into the plan. The caller
// re-runs Resolve afterwards to pick up remaining open fields.
func (r *Resolver) ApplyAnswer(plan *Plan, clarification *Clarification, answer string) error {
	if clarification.StepIndex >= len(plan.Steps) {
		return fmt.Errorf("clarification step %d out of range", clarification.StepIndex)
	}
	step := &plan.Steps[clarification.StepIndex]
	answer = strings.TrimSpace(answer)

	switch step.Capability {
	case capability.MailSend:
		var args capability.MailSendArgs
		if err := json.Unmarshal(step.Args, &args); err != nil {
			return fmt.Errorf("unmarshal step arguments: %w", err)
		}
		switch clarification.Field {
		case "to":
			args.To = cleanRecipient(answer)
		case "subject":
			args.Subject = answer
		case "body":
			args.Body = answer
		}
		step.MissingFields = removeField(step.MissingFields, clarification.Field)
		return remarshalArgs(step, args)

	case capability.CalendarCreate:
		if clarification.Field == "start" {
			if step.Hints == nil {
				step.Hints = map[string]string{}
			}
			step.Hints["when"] = answer
			return nil
		}
	}
	return nil
}

func (r *Resolver) resolveMailSend(ctx context.Context, turn Turn, step *PlanStep) (*Clarification, error) {
	var args capability.MailSendArgs
	if err := json.Unmarshal(step.Args, &args); err != nil {
		return nil, fmt.Errorf("unmarshal step arguments: %w", err)
	}

	if args.To == "" {
		return &Clarification{
			StepIndex: step.StepIndex,
			Field:     "to",
			Question:  "Who should I send it to?",
		}, nil
	}

	if !strings.Contains(args.To, "@") {
		candidates, err := r.recipientCandidates(ctx, turn, step.StepIndex, args.To)
		if err != nil {
			return nil, err
		}
		switch len(candidates) {
		case 0:
			return nil, fmt.Errorf("%w: no recipient matching %q", ErrUnresolvableReference, args.To)
		case 1:
			args.To = candidates[0]
			step.MissingFields = removeField(step.MissingFields, "to")
			if err := remarshalArgs(step, args); err != nil {
				return nil, err
			}
		default:
			return &Clarification{
				StepIndex:  step.StepIndex,
				Field:      "to",
				Question:   fmt.Sprintf("I found several matches for %q. Which one did you mean?", args.To),
				Candidates: candidates,
			}, nil
		}
	} else {
		args.To = cleanRecipient(args.To)
		step.MissingFields = removeField(step.MissingFields, "to")
		if err := remarshalArgs(step, args); err != nil {
			return nil, err
		}
	}

	if args.Subject == "" {
		return &Clarification{
			StepIndex: step.StepIndex,
			Field:     "subject",
			Question:  "What should the subject be?",
		}, nil
	}
	if args.Body == "" {
		return &Clarification{
			StepIndex: step.StepIndex,
			Field:     "body",
			Question:  "What should the email say?",
		}, nil
	}
	return nil, nil
}

// recipientCandidates looks the name up against recent correspondents in
// the mailbox snapshot.
func (r *Resolver) recipientCandidates(ctx context.Context, turn Turn, stepIndex int, name string) ([]string, error) {
	query, err := json.Marshal(capability.MailSearchArgs{Query: name, MaxResults: 20})
	if err != nil {
		return nil, fmt.Errorf("marshal candidate query: %w", err)
	}

	result, err := r.tools.Invoke(ctx, capability.MailSearch, query, turn.Identity, turn.ID,
		stepIndex, resolveKey(turn.ID, stepIndex, "to", name))
	if err != nil {
		return nil, fmt.Errorf("retrieve recipient candidates: %w", err)
	}

	var messages []capability.Message
	if err := json.Unmarshal(result.Payload, &messages); err != nil {
		return nil, fmt.Errorf("decode candidate messages: %w", err)
	}

	lowered := strings.ToLower(name)
	seen := map[string]bool{}
	candidates := []string{}
	for _, message := range messages {
		address := cleanRecipient(message.From)
		if address == "" || seen[address] {
			continue
		}
		if strings.Contains(strings.ToLower(message.FromName), lowered) ||
			strings.Contains(strings.ToLower(message.From), lowered) {
			seen[address] = true
			candidates = append(candidates, address)
		}
	}
	return candidates, nil
}

func (r *Resolver) resolveCalendarCreate(step *PlanStep) (*Clarification, error) {
	var args capability.CalendarCreateArgs
	if err := json.Unmarshal(step.Args, &args); err != nil {
		return nil, fmt.Errorf("unmarshal step arguments: %w", err)
	}
	if args.Start != "" && args.End != "" {
		return nil, nil
	}

	start, ok := parseTimeExpression(r.now(), r.location, step.Hints["when"])
	if !ok {
		what := args.Summary
		if what == "" {
			what = "it"
		}
		return &Clarification{
			StepIndex: step.StepIndex,
			Field:     "start",
			Question:  fmt.Sprintf("When should I schedule %s?", what),
		}, nil
	}

	args.Start = start.Format(time.RFC3339)
	args.End = start.Add(r.eventLength).Format(time.RFC3339)
	args.Timezone = r.location.String()
	step.MissingFields = removeField(step.MissingFields, "start")
	return nil, remarshalArgs(step, args)
}

func (r *Resolver) resolveCalendarWindow(step *PlanStep) error {
	var args capability.CalendarListArgs
	if err := json.Unmarshal(step.Args, &args); err != nil {
		return fmt.Errorf("unmarshal step arguments: %w", err)
	}
	if args.TimeMin != "" && args.TimeMax != "" {
		return nil
	}

	windowStart, windowEnd := parseDayWindow(r.now(), r.location, step.Hints["when"])
	args.TimeMin = windowStart.Format(time.RFC3339)
	args.TimeMax = windowEnd.Format(time.RFC3339)
	return remarshalArgs(step, args)
}

var recipientCleanPattern = regexp.MustCompile(`[^a-zA-Z0-9@._+-]`)

// cleanRecipient normalizes a spoken or typed address: lowered, with
// punctuation and filler stripped. A "Name <addr>" header form reduces
// to the bracketed address.
func cleanRecipient(address string) string {
	if open := strings.LastIndexByte(address, '<'); open >= 0 {
		if end := strings.IndexByte(address[open:], '>'); end > 0 {
			address = address[open+1 : open+end]
		}
	}
	address = strings.ToLower(strings.TrimSpace(address))
	address = strings.ReplaceAll(address, " at ", "@")
	address = strings.ReplaceAll(address, " dot ", ".")
	return recipientCleanPattern.ReplaceAllString(address, "")
}

func resolveKey(turnID string, stepIndex int, field, query string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|resolve|%d|%s|%s", turnID, stepIndex, field, query))
	return hex.EncodeToString(sum[:])
}

func removeField(fields []string, field string) []string {
	remaining := fields[:0]
	for _, f := range fields {
		if f != field {
			remaining = append(remaining, f)
		}
	}
	return remaining
}

func remarshalArgs(step *PlanStep, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal resolved arguments: %w", err)
	}
	step.Args = raw
	return nil
}
