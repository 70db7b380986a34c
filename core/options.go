package orchestration

import (
	"time"

	"github.com/junavoice/juna-core/core/events"
	"github.com/junavoice/juna-core/core/llms"
)

const (
	defaultTurnTimeout         = 60 * time.Second
	defaultConfirmationTimeout = 2 * time.Minute
)

// EngineStore is the persistence surface the engine needs; *store.DB
// satisfies it.
type EngineStore interface {
	TurnStore
	ConfirmationStore
}

type engineConfig struct {
	classifier          llms.StructuredClient
	responder           llms.StreamingClient
	eventHandler        func(events.Event)
	turnTimeout         time.Duration
	confirmationTimeout time.Duration
	timezone            *time.Location
	now                 func() time.Time
	resolverOpts        []ResolverOption
	executorOpts        []ExecutorOption
}

// EngineOption configures the engine.
type EngineOption func(*engineConfig)

// WithClassifier sets the structured model client used for intent
// classification. Without one, planning falls back to keywords.
func WithClassifier(client llms.StructuredClient) EngineOption {
	return func(c *engineConfig) { c.classifier = client }
}

// WithStreamingResponder sets the model client used to stream responses.
func WithStreamingResponder(client llms.StreamingClient) EngineOption {
	return func(c *engineConfig) { c.responder = client }
}

// WithEventHandler registers a callback for every engine event.
func WithEventHandler(handler func(events.Event)) EngineOption {
	return func(c *engineConfig) { c.eventHandler = handler }
}

// WithTurnTimeout bounds how long one turn may run end to end.
func WithTurnTimeout(timeout time.Duration) EngineOption {
	return func(c *engineConfig) { c.turnTimeout = timeout }
}

// WithConfirmationTimeout bounds how long a pending write waits for a
// decision before expiring.
func WithConfirmationTimeout(timeout time.Duration) EngineOption {
	return func(c *engineConfig) { c.confirmationTimeout = timeout }
}

// WithUserTimezone sets the timezone relative time expressions resolve in.
func WithUserTimezone(loc *time.Location) EngineOption {
	return func(c *engineConfig) { c.timezone = loc }
}

// WithEngineClock overrides the engine's time source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(c *engineConfig) { c.now = now }
}

// WithResolverOptions forwards options to the ambiguity resolver.
func WithResolverOptions(opts ...ResolverOption) EngineOption {
	return func(c *engineConfig) { c.resolverOpts = append(c.resolverOpts, opts...) }
}

// WithExecutorOptions forwards options to the plan executor.
func WithExecutorOptions(opts ...ExecutorOption) EngineOption {
	return func(c *engineConfig) { c.executorOpts = append(c.executorOpts, opts...) }
}

// NewEngine wires the turn pipeline over the given store and tool invoker.
func NewEngine(db EngineStore, tools ToolInvoker, opts ...EngineOption) *Engine {
	config := engineConfig{
		turnTimeout:         defaultTurnTimeout,
		confirmationTimeout: defaultConfirmationTimeout,
		timezone:            time.UTC,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(&config)
	}

	emit := noopEventEmitter
	if config.eventHandler != nil {
		emit = config.eventHandler
	}

	resolverOpts := append([]ResolverOption{
		WithTimezone(config.timezone),
		WithResolverClock(config.now),
	}, config.resolverOpts...)

	gate := NewConfirmationGate(db, emit, config.confirmationTimeout, config.now)
	return &Engine{
		coordinator:  NewCoordinator(db, emit, config.now),
		planner:      NewPlanner(config.classifier),
		resolver:     NewResolver(tools, resolverOpts...),
		gate:         gate,
		executor:     NewExecutor(tools, gate, emit, config.executorOpts...),
		tools:        tools,
		responder:    config.responder,
		streamHealth: NewChannelHealth(),
		emit:         emit,
		turnTimeout:  config.turnTimeout,
		now:          config.now,
		suspended:    map[string]*suspendedTurn{},
		history:      map[string][]llms.Exchange{},
	}
}
