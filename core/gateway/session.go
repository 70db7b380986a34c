package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	orchestration "github.com/junavoice/juna-core/core"
	"github.com/junavoice/juna-core/core/events"
	"github.com/junavoice/juna-core/core/speechtotext"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1024 * 1024
)

// Session is one websocket connection bound to a session ID and an
// authenticated identity.
type Session struct {
	server *Server
	conn   *websocket.Conn

	sessionID string
	threadID  string
	identity  string

	transcriber Transcriber
	send        chan []byte
	seq         atomic.Uint64
	closeOnce   sync.Once

	// sendMu orders sends against close: the engine's event handler may race
	// a disconnecting reader, and a send on the closed channel would panic.
	sendMu sync.Mutex
	closed bool
}

func newSession(server *Server, conn *websocket.Conn, sessionID, identity string, transcriber Transcriber) *Session {
	return &Session{
		server:      server,
		conn:        conn,
		sessionID:   sessionID,
		threadID:    sessionID,
		identity:    identity,
		transcriber: transcriber,
		send:        make(chan []byte, 256),
	}
}

func (s *Session) start(ctx context.Context) error {
	if s.transcriber != nil {
		err := s.transcriber.Transcribe(ctx,
			speechtotext.WithInterimTranscriptionCallback(func(transcript string) {
				s.sendEvent("", events.NewUserTranscriptInterim(transcript))
			}),
			speechtotext.WithTranscriptionCallback(func(transcript string) {
				s.sendEvent("", events.NewUserTranscriptFinal(transcript))
				go s.runUtterance(ctx, transcript)
			}),
			speechtotext.WithSpeechStartedCallback(func() {
				s.onSpeechStarted(ctx)
			}),
			speechtotext.WithSpeechEndedCallback(func() {
				s.sendEvent("", events.NewUserSpeechEnded())
			}),
		)
		if err != nil {
			return err
		}
	}

	go s.writePump()
	go s.readPump(ctx)
	return nil
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		if s.transcriber != nil {
			s.transcriber.Close(context.Background())
		}
		s.server.unregister(s)
		s.sendMu.Lock()
		s.closed = true
		close(s.send)
		s.sendMu.Unlock()
		s.conn.Close()
	})
}

func (s *Session) readPump(ctx context.Context) {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnContext(ctx, "websocket read error", "session_id", s.sessionID, "error", err)
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			if s.transcriber != nil {
				if err := s.transcriber.SendAudio(message); err != nil {
					logger.WarnContext(ctx, "failed to forward audio", "session_id", s.sessionID, "error", err)
				}
			}
			continue
		}
		s.handleMessage(ctx, message)
	}
}

func (s *Session) handleMessage(ctx context.Context, message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.sendEvent("", events.NewError("", "invalid_message", "failed to parse message"))
		return
	}

	if msg.Seq > 0 {
		if err := s.server.engine.AdmitEvent(s.sessionID, msg.Seq); err != nil {
			s.sendEvent("", events.NewError("", "ordering_violation", err.Error()))
			return
		}
	}

	switch msg.Type {
	case TypeTextInput:
		go s.runText(ctx, msg)

	case TypeAudioEnd:
		if s.transcriber != nil {
			if err := s.transcriber.StopStream(); err != nil {
				logger.WarnContext(ctx, "failed to stop transcription stream", "session_id", s.sessionID, "error", err)
			}
		}

	case TypeConfirmResponse:
		action := orchestration.DecisionAction(msg.Action)
		if err := s.server.engine.ResolveConfirmation(msg.ConfirmationRequestID, action, msg.EditedArgs); err != nil {
			s.sendEvent("", events.NewError("", orchestration.ErrorCodeConfirmationFailed, err.Error()))
		}

	case TypeClarifyResponse:
		go func() {
			if _, err := s.server.engine.AnswerClarification(ctx, s.sessionID, msg.Answer); err != nil {
				logger.WarnContext(ctx, "clarification answer failed", "session_id", s.sessionID, "error", err)
			}
		}()

	case TypeInterrupt:
		reason := msg.Reason
		if reason == "" {
			reason = "user_interrupt"
		}
		s.server.engine.CancelActiveTurn(ctx, s.sessionID, reason)

	default:
		s.sendEvent("", events.NewError("", "invalid_message", "unknown message type: "+msg.Type))
	}
}

// runText routes a typed frame: an open clarification consumes it as the
// answer, anything else starts a new turn.
func (s *Session) runText(ctx context.Context, msg ClientMessage) {
	if s.server.engine.HasSuspendedTurn(s.sessionID) {
		if _, err := s.server.engine.AnswerClarification(ctx, s.sessionID, msg.Text); err != nil {
			logger.WarnContext(ctx, "clarification answer failed", "session_id", s.sessionID, "error", err)
		}
		return
	}

	_, err := s.server.engine.HandleText(ctx, orchestration.TurnRequest{
		SessionID:  s.sessionID,
		ThreadID:   s.threadID,
		Identity:   s.identity,
		RequestKey: msg.RequestKey,
		Text:       msg.Text,
	})
	if err != nil {
		logger.WarnContext(ctx, "turn failed", "session_id", s.sessionID, "error", err)
	}
}

func (s *Session) runUtterance(ctx context.Context, transcript string) {
	if s.server.engine.HasSuspendedTurn(s.sessionID) {
		if _, err := s.server.engine.AnswerClarification(ctx, s.sessionID, transcript); err != nil {
			logger.WarnContext(ctx, "clarification answer failed", "session_id", s.sessionID, "error", err)
		}
		return
	}

	_, err := s.server.engine.HandleTranscript(ctx, orchestration.TurnRequest{
		SessionID: s.sessionID,
		ThreadID:  s.threadID,
		Identity:  s.identity,
		Text:      transcript,
	})
	if err != nil {
		logger.WarnContext(ctx, "turn failed", "session_id", s.sessionID, "error", err)
	}
}

// onSpeechStarted is the barge-in hook: speech during assistant playback
// cancels the active turn before the new utterance is transcribed.
func (s *Session) onSpeechStarted(ctx context.Context) {
	s.sendEvent("", events.NewUserSpeechStarted())
	if active, ok := s.server.engine.ActiveTurn(s.sessionID); ok && active.State == orchestration.StateSpeaking {
		s.server.engine.CancelActiveTurn(ctx, s.sessionID, "barge_in")
	}
}

// sendEvent wraps the event in an envelope with the next outbound sequence
// number and queues it for the write pump.
func (s *Session) sendEvent(turnID string, event events.Event) {
	var turnSeq uint64
	if turnID != "" {
		if _, seq, ok := s.server.engine.TurnInfo(turnID); ok {
			turnSeq = seq
		}
	}

	envelope := events.NewEnvelope(s.sessionID, turnID, s.seq.Add(1), turnSeq, event)
	frame, err := json.Marshal(envelope)
	if err != nil {
		logger.Warn("failed to marshal envelope", "session_id", s.sessionID, "error", err)
		return
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- frame:
	default:
		logger.Warn("dropping frame for slow consumer", "session_id", s.sessionID)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
