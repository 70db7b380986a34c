// Package deepgram implements the speechtotext boundary over the Deepgram
// realtime listen API.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"

	"github.com/junavoice/juna-core/core/speechtotext"
)

const listenURL = "wss://api.deepgram.com/v1/listen"

// TranscriptionClient streams audio to Deepgram and feeds transcripts back
// through the configured callbacks.
type TranscriptionClient struct {
	apiKey string

	connMu      sync.Mutex
	conn        *websocket.Conn
	lastAudioTs time.Time

	accumulatedTranscript string
	unendedSegment        bool
}

// NewTranscriptionClient builds a client. An empty apiKey falls back to the
// DEEPGRAM_API_KEY environment variable.
func NewTranscriptionClient(apiKey string) *TranscriptionClient {
	if apiKey == "" {
		apiKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	return &TranscriptionClient{apiKey: apiKey}
}

type transcriptionCallbacks struct {
	interimTranscriptionCallback func(transcript string)
	segmentTranscriptionCallback func(transcript string)
	transcriptionCallback        func(transcript string)
	startSpeechCallback          func()
	endSpeechCallback            func()
}

type websocketConfig struct {
	encoding   string
	sampleRate int

	shouldDetectSpeechStart            bool
	shouldEnhanceSpeechEndingDetection bool
	shouldRequestInterimResults        bool
}

// newCallbackConfig normalizes unset callbacks to noops and derives which
// server-side features the connection needs to request.
func newCallbackConfig(options speechtotext.TranscriptionOptions) (transcriptionCallbacks, websocketConfig) {
	noopTranscript := func(string) {}
	noop := func() {}

	callbacks := transcriptionCallbacks{
		interimTranscriptionCallback: noopTranscript,
		segmentTranscriptionCallback: noopTranscript,
		transcriptionCallback:        noopTranscript,
		startSpeechCallback:          noop,
		endSpeechCallback:            noop,
	}
	config := websocketConfig{
		shouldDetectSpeechStart: options.SpeechStartedCallback != nil,
		shouldEnhanceSpeechEndingDetection: options.TranscriptionCallback != nil ||
			options.SpeechEndedCallback != nil,
		shouldRequestInterimResults: options.InterimTranscriptionCallback != nil,
	}

	if options.InterimTranscriptionCallback != nil {
		callbacks.interimTranscriptionCallback = options.InterimTranscriptionCallback
	}
	if options.SegmentTranscriptionCallback != nil {
		callbacks.segmentTranscriptionCallback = options.SegmentTranscriptionCallback
	}
	if options.TranscriptionCallback != nil {
		callbacks.transcriptionCallback = options.TranscriptionCallback
	}
	if options.SpeechStartedCallback != nil {
		callbacks.startSpeechCallback = options.SpeechStartedCallback
	}
	if options.SpeechEndedCallback != nil {
		callbacks.endSpeechCallback = options.SpeechEndedCallback
	}
	return callbacks, config
}

func validateEncoding(options *speechtotext.TranscriptionOptions) error {
	if options.Encoding == "" {
		options.Encoding = speechtotext.EncodingLinear16
	}
	if options.SampleRate == 0 {
		options.SampleRate = 16000
	}

	switch options.Encoding {
	case speechtotext.EncodingLinear16:
		switch options.SampleRate {
		case 8000, 16000, 24000, 32000, 48000:
		default:
			return fmt.Errorf("unsupported sample rate %d for linear16", options.SampleRate)
		}
	case speechtotext.EncodingMulaw, speechtotext.EncodingALaw:
		if options.SampleRate != 8000 {
			return fmt.Errorf("unsupported sample rate %d for %s", options.SampleRate, options.Encoding)
		}
	default:
		return fmt.Errorf("unsupported encoding %q", options.Encoding)
	}
	return nil
}

// Transcribe opens the realtime connection and starts the read loop. Call
// SendAudio with raw chunks afterwards; callbacks fire from the read loop.
func (s *TranscriptionClient) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	options := &speechtotext.TranscriptionOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if err := validateEncoding(options); err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}

	callbacks, config := newCallbackConfig(*options)
	config.encoding = string(options.Encoding)
	config.sampleRate = options.SampleRate

	conn, err := s.connect(config)
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.lastAudioTs = time.Now()
	s.connMu.Unlock()

	go s.readAndProcessMessages(ctx, conn, callbacks)
	return nil
}

func (s *TranscriptionClient) connect(config websocketConfig) (*websocket.Conn, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	listen, _ := url.Parse(listenURL)
	queryParams := listen.Query()
	queryParams.Set("encoding", config.encoding)
	queryParams.Set("sample_rate", strconv.Itoa(config.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", "nova-3")
	queryParams.Set("language", "en-US")
	queryParams.Set("smart_format", "true")
	queryParams.Set("endpointing", "300")
	if config.shouldEnhanceSpeechEndingDetection {
		queryParams.Set("utterance_end_ms", "1000")
		queryParams.Set("interim_results", "true")
	} else if config.shouldRequestInterimResults {
		queryParams.Set("interim_results", "true")
	}
	if config.shouldDetectSpeechStart || config.shouldEnhanceSpeechEndingDetection {
		queryParams.Set("vad_events", "true")
	}
	listen.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(listen.String(),
		http.Header{"Authorization": {"Token " + s.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

// SendAudio forwards one raw audio chunk.
func (s *TranscriptionClient) SendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("transcription stream is not open")
	}

	s.lastAudioTs = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

// StopStream asks the server to flush and finalize the current utterance.
func (s *TranscriptionClient) StopStream() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil
	}

	if err := s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

// Close tears the connection down.
func (s *TranscriptionClient) Close(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *TranscriptionClient) sendKeepAlive() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return
	}

	if err := s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: "KeepAlive"}); err != nil {
		log.Println("Failed to write to deepgram client", "error", err)
	}
}

func (s *TranscriptionClient) readAndProcessMessages(ctx context.Context, conn *websocket.Conn, callbacks transcriptionCallbacks) {
	keepAliveCtx, keepAliveCancel := context.WithCancel(ctx)
	defer keepAliveCancel()
	go s.keepAlive(keepAliveCtx)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if err.Error() != "websocket: close 1000 (normal)" {
				log.Println("Failed to read deepgram websocket message", "error", err)
			}

			s.connMu.Lock()
			s.conn = nil
			s.connMu.Unlock()
			conn.Close()
			return
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(msg, callbacks)
		}
	}
}

// keepAlive keeps the connection open across gaps in client audio. Deepgram
// drops the socket after ~10s without traffic.
func (s *TranscriptionClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			idle := time.Since(s.lastAudioTs)
			s.connMu.Unlock()
			if idle > 5*time.Second {
				s.sendKeepAlive()
			}
		}
	}
}

func (s *TranscriptionClient) processMessage(msg []byte, callbacks transcriptionCallbacks) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		log.Println("Failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			log.Println("Failed to unmarshal deepgram message", err)
			return
		}
		if len(msgResp.Channel.Alternatives) == 0 {
			return
		}
		transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		if len(transcript) == 0 {
			return
		}

		if msgResp.IsFinal {
			s.accumulatedTranscript = strings.TrimSpace(s.accumulatedTranscript + " " + transcript)
			callbacks.segmentTranscriptionCallback(transcript)
			if msgResp.SpeechFinal {
				s.finishUtterance(callbacks)
			}
			return
		}
		callbacks.interimTranscriptionCallback(strings.TrimSpace(s.accumulatedTranscript + " " + transcript))

	case api.TypeUtteranceEndResponse:
		if s.unendedSegment {
			s.finishUtterance(callbacks)
		}

	case api.TypeSpeechStartedResponse:
		s.unendedSegment = true
		callbacks.startSpeechCallback()
	}
}

func (s *TranscriptionClient) finishUtterance(callbacks transcriptionCallbacks) {
	s.unendedSegment = false
	fullTranscript := strings.TrimSpace(s.accumulatedTranscript)
	s.accumulatedTranscript = ""
	if len(fullTranscript) > 0 {
		callbacks.transcriptionCallback(fullTranscript)
	}
	callbacks.endSpeechCallback()
}
