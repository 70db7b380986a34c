// Package llms defines the narrow model-provider contract the engine
// depends on: incremental text generation for spoken or typed responses,
// and schema-constrained generation for classification and planning.
package llms

import "context"

// Exchange is one prior turn of conversation context handed to the model.
type Exchange struct {
	Role    Role
	Content string
}

// Role describes who an exchange is from.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StreamingClient generates a response incrementally. onDelta is called for
// every content fragment as it arrives; the full response is returned once
// the stream ends.
type StreamingClient interface {
	PromptWithStream(ctx context.Context, prompt string, onDelta func(delta string), opts ...PromptOption) (string, error)
}

// StructuredClient fills out with a completion constrained to out's JSON
// schema, derived by reflection.
type StructuredClient interface {
	PromptStructured(ctx context.Context, prompt string, out any, opts ...PromptOption) error
}

// PromptOptions carry the optional parts of a prompt.
type PromptOptions struct {
	Instructions string
	History      []Exchange
}

// PromptOption modifies PromptOptions.
type PromptOption func(*PromptOptions)

// WithInstructions sets the system prompt.
func WithInstructions(instructions string) PromptOption {
	return func(o *PromptOptions) { o.Instructions = instructions }
}

// WithHistory provides prior exchanges as conversation context.
func WithHistory(history []Exchange) PromptOption {
	return func(o *PromptOptions) { o.History = history }
}
