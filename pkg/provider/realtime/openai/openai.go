// Package openai implements the realtime.Provider interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio travels as base64-encoded PCM16. Per-response audio deltas are
// accumulated and surfaced as one speech.completed event per finished
// response, which is the granularity the relay re-encodes at.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/echorelay/pkg/provider/realtime"
)

// Compile-time assertions that Provider and session satisfy the realtime
// interfaces.
var _ realtime.Provider = (*Provider)(nil)
var _ realtime.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new Realtime session with the given options. The
// returned SessionHandle is ready to accept audio once the session.update
// message has been sent.
func (p *Provider) Connect(ctx context.Context, opts realtime.Options) (realtime.SessionHandle, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("openai: api key is not configured")
	}

	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan realtime.Event, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(opts); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice              string               `json:"voice,omitempty"`
	Instructions       string               `json:"instructions,omitempty"`
	InputAudioFormat   string               `json:"input_audio_format"`
	OutputAudioFormat  string               `json:"output_audio_format"`
	InputTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
}

type transcriptionParams struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// serverErrorDetail represents the nested error object in a Realtime error
// event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan realtime.Event

	mu     sync.Mutex
	errVal error
	closed bool

	// Per-response accumulators, reset on each completed response. Only the
	// receive loop touches them, so no locking is needed.
	pendingAudio      []byte
	pendingTranscript string
	announcedProgress bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate configures voice, instructions, audio formats, and input
// transcription for the session.
func (s *session) sendSessionUpdate(opts realtime.Options) error {
	params := sessionParams{
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		Voice:             opts.Voice,
		Instructions:      opts.Instructions,
	}
	if opts.TranscriptionModel != "" {
		params.InputTranscription = &transcriptionParams{
			Model:    opts.TranscriptionModel,
			Language: opts.Language,
		}
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.created":
		s.announcedProgress = true
		s.emit(realtime.Event{
			Type:   realtime.EventSpeechInProgress,
			Role:   realtime.RoleAssistant,
			Status: realtime.StatusInProgress,
		})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		if !s.announcedProgress {
			s.announcedProgress = true
			s.emit(realtime.Event{
				Type:   realtime.EventSpeechInProgress,
				Role:   realtime.RoleAssistant,
				Status: realtime.StatusInProgress,
			})
		}
		s.pendingAudio = append(s.pendingAudio, audioData...)

	case "response.audio_transcript.delta":
		s.pendingTranscript += evt.Delta

	case "response.done":
		audio := s.pendingAudio
		transcript := s.pendingTranscript
		s.pendingAudio = nil
		s.pendingTranscript = ""
		s.announcedProgress = false

		s.emit(realtime.Event{
			Type:       realtime.EventSpeechCompleted,
			Role:       realtime.RoleAssistant,
			Status:     realtime.StatusCompleted,
			Audio:      audio,
			Transcript: transcript,
		})

	case "conversation.item.created":
		s.emit(realtime.Event{
			Type: realtime.EventConversationUpdated,
		})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.emit(realtime.Event{
			Type:       realtime.EventConversationUpdated,
			Role:       realtime.RoleUser,
			Status:     realtime.StatusCompleted,
			Transcript: evt.Transcript,
		})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		err := fmt.Errorf("openai: %s", msg)
		s.setErr(err)
		s.emit(realtime.Event{Type: realtime.EventError, Err: err})
	}
}

// emit delivers an event unless the session context is done.
func (s *session) emit(evt realtime.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers a raw PCM16 audio chunk to the model.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(chunk)
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: encoded,
	})
}

// SendText injects a user text message as a conversation item.
func (s *session) SendText(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: text},
			},
		},
	})
}

// CreateResponse commits the buffered input audio and asks the model to
// respond. Sessions driven by server-side turn detection do not need this;
// the single-shot HTTP relay path does.
func (s *session) CreateResponse() error {
	if err := s.writeJSON(map[string]string{"type": "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// Events returns the channel on which upstream events arrive.
func (s *session) Events() <-chan realtime.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases the connection. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
