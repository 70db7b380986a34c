package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/junavoice/juna-core/core/capability"
	"github.com/junavoice/juna-core/core/llms"
)

const classifierInstructions = `You are the intent classifier of a personal voice assistant with access to the user's mailbox, calendar and long-term memory.
Classify the user's utterance into one or more intents and extract the fields each intent needs.
Use the user's own words for extracted fields; leave a field empty when the utterance does not state it.
Set ambiguity between 0 and 1: how uncertain you are about what the user wants or which entities they refer to.`

// detectedIntent is one action the classifier found in the utterance.
type detectedIntent struct {
	Intent    string `json:"intent" jsonschema:"enum=read_email,enum=send_email,enum=draft_reply,enum=schedule_event,enum=calendar_answer,enum=memory_recall,enum=memory_save,enum=general"`
	Query     string `json:"query,omitempty" jsonschema:"description=Search terms for mailbox or memory lookups"`
	Recipient string `json:"recipient,omitempty" jsonschema:"description=Who the email is for; a name or address"`
	Subject   string `json:"subject,omitempty" jsonschema:"description=Email subject"`
	Body      string `json:"body,omitempty" jsonschema:"description=Email body"`
	Summary   string `json:"summary,omitempty" jsonschema:"description=Calendar event title"`
	When      string `json:"when,omitempty" jsonschema:"description=Natural-language time expression, verbatim"`
	Content   string `json:"content,omitempty" jsonschema:"description=Fact to remember"`
}

// turnClassification is the schema-constrained classifier output.
type turnClassification struct {
	Intents   []detectedIntent `json:"intents"`
	Ambiguity float64          `json:"ambiguity" jsonschema:"description=Uncertainty about the classification, 0 to 1"`
}

// Planner turns an utterance into an ordered capability plan. Classification
// goes through the structured model client when one is configured; a keyword
// fallback covers the degraded path so planning never depends on model
// availability.
type Planner struct {
	classifier llms.StructuredClient
}

// NewPlanner builds a planner. classifier may be nil.
func NewPlanner(classifier llms.StructuredClient) *Planner {
	return &Planner{classifier: classifier}
}

// BuildPlan classifies the turn's utterance and maps each detected intent to
// plan steps. Write-level steps always require confirmation regardless of
// how confident classification was.
func (p *Planner) BuildPlan(ctx context.Context, turn Turn, history []llms.Exchange) (*Plan, error) {
	ctx, span := tracer.Start(ctx, "build plan")
	defer span.End()

	classification := p.classify(ctx, turn.Utterance, history)

	plan := &Plan{TurnID: turn.ID, AmbiguityScore: classification.Ambiguity}
	for _, intent := range classification.Intents {
		steps, err := stepsForIntent(intent)
		if err != nil {
			return nil, err
		}
		for _, step := range steps {
			step.StepIndex = len(plan.Steps)
			plan.Steps = append(plan.Steps, step)
		}
	}

	span.SetAttributes(
		attribute.Int("plan.steps", len(plan.Steps)),
		attribute.Float64("plan.ambiguity", plan.AmbiguityScore),
	)
	return plan, nil
}

func (p *Planner) classify(ctx context.Context, utterance string, history []llms.Exchange) turnClassification {
	if p.classifier != nil {
		var classification turnClassification
		err := p.classifier.PromptStructured(ctx, utterance, &classification,
			llms.WithInstructions(classifierInstructions),
			llms.WithHistory(history),
		)
		if err == nil && len(classification.Intents) > 0 {
			return classification
		}
		if err != nil {
			logger.WarnContext(ctx, "intent classification failed, falling back to keywords", "error", err)
		}
	}
	return keywordClassify(utterance)
}

func stepsForIntent(intent detectedIntent) ([]PlanStep, error) {
	step := func(name capability.Name, args any, missing []string, hints map[string]string) (PlanStep, error) {
		descriptor, err := capability.Lookup(name)
		if err != nil {
			return PlanStep{}, err
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return PlanStep{}, fmt.Errorf("marshal step arguments: %w", err)
		}
		return PlanStep{
			Capability:           name,
			Args:                 raw,
			ActionLevel:          descriptor.ActionLevel,
			RequiresConfirmation: descriptor.ActionLevel == capability.ActionWrite,
			MissingFields:        missing,
			Hints:                hints,
		}, nil
	}

	switch intent.Intent {
	case "read_email":
		s, err := step(capability.MailSearch, capability.MailSearchArgs{Query: intent.Query, MaxResults: 5}, nil, nil)
		if err != nil {
			return nil, err
		}
		return []PlanStep{s}, nil

	case "send_email":
		missing := []string{}
		if intent.Recipient == "" {
			missing = append(missing, "to")
		}
		if intent.Subject == "" {
			missing = append(missing, "subject")
		}
		if intent.Body == "" {
			missing = append(missing, "body")
		}
		s, err := step(capability.MailSend, capability.MailSendArgs{
			To:      intent.Recipient,
			Subject: intent.Subject,
			Body:    intent.Body,
		}, missing, nil)
		if err != nil {
			return nil, err
		}
		return []PlanStep{s}, nil

	case "draft_reply":
		instruction := intent.Body
		if instruction == "" {
			instruction = intent.Query
		}
		s, err := step(capability.MailDraftReply, capability.MailDraftReplyArgs{Instruction: instruction, MaxResults: 5}, nil, nil)
		if err != nil {
			return nil, err
		}
		return []PlanStep{s}, nil

	case "schedule_event":
		missing := []string{}
		if intent.When == "" {
			missing = append(missing, "start")
		}
		s, err := step(capability.CalendarCreate, capability.CalendarCreateArgs{Summary: intent.Summary},
			missing, map[string]string{"when": intent.When})
		if err != nil {
			return nil, err
		}
		return []PlanStep{s}, nil

	case "calendar_answer":
		s, err := step(capability.CalendarList, capability.CalendarListArgs{MaxResults: 10},
			nil, map[string]string{"when": intent.When})
		if err != nil {
			return nil, err
		}
		return []PlanStep{s}, nil

	case "memory_recall":
		s, err := step(capability.MemorySearch, capability.MemorySearchArgs{Query: intent.Query, Limit: 5}, nil, nil)
		if err != nil {
			return nil, err
		}
		return []PlanStep{s}, nil

	case "memory_save":
		s, err := step(capability.MemoryWrite, capability.MemoryWriteArgs{Content: intent.Content, Source: "conversation"}, nil, nil)
		if err != nil {
			return nil, err
		}
		return []PlanStep{s}, nil
	}

	// general: answered directly, no tools.
	return nil, nil
}

var (
	sendRecipientPattern  = regexp.MustCompile(`(?:email|mail|message)\s+(?:to\s+)?([A-Za-z][\w.+-]*(?:@[\w.-]+)?)`)
	aboutSubjectPattern   = regexp.MustCompile(`about\s+(.+?)(?:\s+and\s|$)`)
	rememberContent       = regexp.MustCompile(`(?:remember|note)\s+(?:that\s+)?(.+)$`)
	scheduleTitlePattern  = regexp.MustCompile(`(?:schedule|book|set up)\s+(?:a\s+|an\s+)?(.+?)(?:\s+(?:for|at|on|tomorrow|today|next)\b.*)?$`)
	timeExpressionPattern = regexp.MustCompile(`\b(?:today|tomorrow|tonight|monday|tuesday|wednesday|thursday|friday|saturday|sunday|next week|\d{1,2}(?::\d{2})?\s*(?:am|pm))\b.*`)
)

// keywordClassify is the degraded-path classifier. It is deliberately
// coarse: it only needs to keep core flows working when the model is down.
func keywordClassify(utterance string) turnClassification {
	lowered := strings.ToLower(utterance)
	classification := turnClassification{Ambiguity: 0.3}

	when := timeExpressionPattern.FindString(lowered)

	if strings.Contains(lowered, "reply") {
		classification.Intents = append(classification.Intents, detectedIntent{
			Intent: "draft_reply",
			Body:   utterance,
		})
	} else if containsAny(lowered, "send", "write", "tell") && containsAny(lowered, "email", "mail", "message") {
		intent := detectedIntent{Intent: "send_email"}
		if match := sendRecipientPattern.FindStringSubmatch(lowered); match != nil {
			intent.Recipient = match[1]
		}
		if match := aboutSubjectPattern.FindStringSubmatch(utterance); match != nil {
			intent.Subject = match[1]
		}
		classification.Intents = append(classification.Intents, intent)
	} else if containsAny(lowered, "email", "inbox", "mail") {
		classification.Intents = append(classification.Intents, detectedIntent{
			Intent: "read_email",
			Query:  utterance,
		})
	}

	if containsAny(lowered, "schedule", "book", "set up") {
		intent := detectedIntent{Intent: "schedule_event", When: when}
		if match := scheduleTitlePattern.FindStringSubmatch(utterance); match != nil {
			intent.Summary = strings.TrimSpace(match[1])
		}
		classification.Intents = append(classification.Intents, intent)
	} else if containsAny(lowered, "calendar", "free", "busy", "available", "meeting") {
		classification.Intents = append(classification.Intents, detectedIntent{
			Intent: "calendar_answer",
			When:   when,
		})
	}

	if match := rememberContent.FindStringSubmatch(utterance); match != nil && containsAny(lowered, "remember", "note that") {
		classification.Intents = append(classification.Intents, detectedIntent{
			Intent:  "memory_save",
			Content: match[1],
		})
	} else if containsAny(lowered, "recall", "what do you know", "what did i") {
		classification.Intents = append(classification.Intents, detectedIntent{
			Intent: "memory_recall",
			Query:  utterance,
		})
	}

	if len(classification.Intents) == 0 {
		classification.Intents = []detectedIntent{{Intent: "general"}}
		classification.Ambiguity = 0.1
	}
	return classification
}

func containsAny(haystack string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
