// Package gateway exposes the engine over websocket sessions: inbound text,
// audio and decisions, outbound sequenced event envelopes.
package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	orchestration "github.com/junavoice/juna-core/core"
	"github.com/junavoice/juna-core/core/events"
	"github.com/junavoice/juna-core/core/speechtotext"
)

// Transcriber is the voice input boundary a session streams audio into.
type Transcriber interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
	StopStream() error
	Close(ctx context.Context) error
}

// Authorizer resolves the session ID and identity for an incoming
// connection. Connections it rejects never reach the engine.
type Authorizer func(r *http.Request) (sessionID, identity string, err error)

// Server upgrades websocket connections into engine sessions and routes
// engine events back to the connection that owns the turn.
type Server struct {
	engine    *orchestration.Engine
	authorize Authorizer
	upgrader  websocket.Upgrader

	// newTranscriber is invoked per session; nil disables voice input.
	newTranscriber func() Transcriber

	mu       sync.Mutex
	sessions map[string]*Session
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithTranscriberFactory enables voice input, building one transcriber per
// session.
func WithTranscriberFactory(factory func() Transcriber) ServerOption {
	return func(s *Server) { s.newTranscriber = factory }
}

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(check func(r *http.Request) bool) ServerOption {
	return func(s *Server) { s.upgrader.CheckOrigin = check }
}

// NewServer builds a gateway. Construct the engine with
// WithEventHandler(server.HandleEvent) and then call SetEngine.
func NewServer(authorize Authorizer, opts ...ServerOption) *Server {
	s := &Server{
		authorize: authorize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sessions: map[string]*Session{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEngine binds the engine the server routes traffic to.
func (s *Server) SetEngine(engine *orchestration.Engine) {
	s.engine = engine
}

// HandleEvent routes one engine event to the session that owns its turn.
// Events without a turn are emitted by sessions themselves and never pass
// through here.
func (s *Server) HandleEvent(event events.Event) {
	turnID := turnIDOf(event)
	if turnID == "" {
		return
	}
	sessionID, _, ok := s.engine.TurnInfo(turnID)
	if !ok {
		return
	}

	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	session.sendEvent(turnID, event)
}

// ServeHTTP upgrades the connection and runs the session until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "open session")
	defer span.End()

	if s.engine == nil {
		http.Error(w, "gateway not ready", http.StatusServiceUnavailable)
		return
	}

	sessionID, identity, err := s.authorize(r)
	if err != nil {
		span.RecordError(err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		return
	}

	var transcriber Transcriber
	if s.newTranscriber != nil {
		transcriber = s.newTranscriber()
	}

	session := newSession(s, conn, sessionID, identity, transcriber)
	s.mu.Lock()
	if existing, ok := s.sessions[sessionID]; ok {
		go existing.close()
	}
	s.sessions[sessionID] = session
	s.mu.Unlock()

	// The session outlives this handler; tie its lifetime to the server,
	// not the upgrade request.
	if err := session.start(context.WithoutCancel(ctx)); err != nil {
		logger.ErrorContext(ctx, "failed to start session", "session_id", sessionID, "error", err)
		session.close()
	}
}

func (s *Server) unregister(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[session.sessionID]; ok && current == session {
		delete(s.sessions, session.sessionID)
	}
}

func turnIDOf(event events.Event) string {
	switch typed := event.(type) {
	case events.TurnStart:
		return typed.TurnID
	case events.StateChange:
		return typed.TurnID
	case events.TurnEnd:
		return typed.TurnID
	case events.TurnCancelled:
		return typed.TurnID
	case events.ToolCallProgress:
		return typed.TurnID
	case events.ConfirmationRequest:
		return typed.TurnID
	case events.ClarificationRequest:
		return typed.TurnID
	case events.AssistantTextDelta:
		return typed.TurnID
	case events.AssistantTextFinal:
		return typed.TurnID
	case events.Error:
		return typed.TurnID
	}
	return ""
}
