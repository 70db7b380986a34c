package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/junavoice/juna-core/core/capability"
	"github.com/junavoice/juna-core/core/events"
	"github.com/junavoice/juna-core/core/llms"
	"github.com/junavoice/juna-core/core/router"
	"github.com/junavoice/juna-core/internal/store"
)

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// eventRecorder captures emitted events and can react to them.
type eventRecorder struct {
	mu       sync.Mutex
	events   []events.Event
	reaction func(event events.Event)
}

func (r *eventRecorder) handle(event events.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	reaction := r.reaction
	r.mu.Unlock()
	if reaction != nil {
		reaction(event)
	}
}

func (r *eventRecorder) countKind(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, event := range r.events {
		if event.Kind() == kind {
			count++
		}
	}
	return count
}

type fakeClassifier struct {
	classifications map[string]turnClassification
}

func (f *fakeClassifier) PromptStructured(ctx context.Context, prompt string, out any, opts ...llms.PromptOption) error {
	classification, ok := f.classifications[prompt]
	if !ok {
		return fmt.Errorf("no classification for %q", prompt)
	}
	*out.(*turnClassification) = classification
	return nil
}

type scenarioMail struct {
	mu            sync.Mutex
	searchResults []capability.Message
	sendCalls     int
	sendErr       error
	lastSend      capability.MailSendArgs
}

func (m *scenarioMail) Search(ctx context.Context, identity string, args capability.MailSearchArgs) ([]capability.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchResults, nil
}

func (m *scenarioMail) Send(ctx context.Context, identity string, args capability.MailSendArgs) (*capability.SendReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls++
	m.lastSend = args
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &capability.SendReceipt{MessageID: fmt.Sprintf("sent-%d", m.sendCalls), To: args.To, Subject: args.Subject}, nil
}

func (m *scenarioMail) DraftReply(ctx context.Context, identity string, args capability.MailDraftReplyArgs) (*capability.Draft, error) {
	return &capability.Draft{Body: "drafted"}, nil
}

func (m *scenarioMail) sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendCalls
}

type scenarioCalendar struct {
	mu          sync.Mutex
	createCalls int
	// failures counts down transient errors before Create succeeds.
	failures int
	created  []capability.Event
}

func (c *scenarioCalendar) List(ctx context.Context, identity string, args capability.CalendarListArgs) ([]capability.Event, error) {
	return []capability.Event{{ID: "e1", Summary: "standup", Start: args.TimeMin}}, nil
}

func (c *scenarioCalendar) Create(ctx context.Context, identity string, args capability.CalendarCreateArgs) (*capability.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if c.failures > 0 {
		c.failures--
		return nil, capability.NewTransientError("timeout", "provider timed out")
	}
	event := capability.Event{ID: fmt.Sprintf("evt-%d", len(c.created)+1), Summary: args.Summary, Start: args.Start, End: args.End}
	c.created = append(c.created, event)
	return &event, nil
}

func (c *scenarioCalendar) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createCalls
}

func (c *scenarioCalendar) eventsCreated() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.created)
}

type testEnv struct {
	db       *store.DB
	engine   *Engine
	recorder *eventRecorder
	mail     *scenarioMail
	calendar *scenarioCalendar
}

func newTestEnv(t *testing.T, classifier llms.StructuredClient, opts ...EngineOption) *testEnv {
	t.Helper()
	db := openTestStore(t)
	recorder := &eventRecorder{}
	mail := &scenarioMail{}
	calendar := &scenarioCalendar{}

	toolRouter := router.New(router.Providers{Mail: mail, Calendar: calendar}, nil, db)

	engineOpts := append([]EngineOption{
		WithEventHandler(recorder.handle),
		WithClassifier(classifier),
		WithTurnTimeout(5 * time.Second),
		WithConfirmationTimeout(2 * time.Second),
		WithExecutorOptions(WithBackoffBase(time.Millisecond)),
	}, opts...)

	return &testEnv{
		db:       db,
		engine:   NewEngine(db, toolRouter, engineOpts...),
		recorder: recorder,
		mail:     mail,
		calendar: calendar,
	}
}

// autoResolveConfirmations accepts (or otherwise resolves) every
// confirmation request as it is surfaced.
func (env *testEnv) autoResolveConfirmations(action DecisionAction) {
	env.recorder.mu.Lock()
	defer env.recorder.mu.Unlock()
	env.recorder.reaction = func(event events.Event) {
		if request, ok := event.(events.ConfirmationRequest); ok {
			go env.engine.ResolveConfirmation(request.ConfirmationRequestID, action, nil)
		}
	}
}

// stubInvoker is a ToolInvoker whose behavior each test supplies.
type stubInvoker struct {
	mu    sync.Mutex
	calls int
	keys  []string
	fn    func(name capability.Name, args json.RawMessage, idempotencyKey string) (*router.Result, error)
}

func (s *stubInvoker) Invoke(ctx context.Context, name capability.Name, args json.RawMessage, identity, turnID string, stepIndex int, idempotencyKey string) (*router.Result, error) {
	s.mu.Lock()
	s.calls++
	s.keys = append(s.keys, idempotencyKey)
	s.mu.Unlock()
	return s.fn(name, args, idempotencyKey)
}

func (s *stubInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubInvoker) seenKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, len(s.keys))
	copy(keys, s.keys)
	return keys
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return raw
}
