// Package relay implements the audio relay session: one downstream client
// transport paired with one upstream realtime speech session. Inbound binary
// PCM frames are validated and forwarded upstream; upstream events are
// re-encoded (completed assistant audio becomes a WAV envelope) and relayed
// downstream. Both ends are always torn down together.
//
// This package is internal because it encapsulates application-private relay
// logic and is not intended for import by external code.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/echorelay/internal/observe"
	"github.com/MrWong99/echorelay/pkg/audio"
	"github.com/MrWong99/echorelay/pkg/provider/realtime"
)

const (
	// defaultTimeout bounds how long a session waits for upstream activity
	// after the last completed utterance before closing with [ErrTimeout].
	defaultTimeout = 30 * time.Second

	// defaultSampleRate is the mono sample rate assumed for inbound PCM and
	// written into outbound WAV headers when the caller does not override it.
	defaultSampleRate = 24000
)

// State describes where a session is in its lifecycle. Transitions are
// strictly forward: Created -> AwaitingUpstream -> Streaming -> Closed, with
// any state allowed to jump straight to Closed on error or disconnect.
type State int32

const (
	// StateCreated means the session exists but has not contacted upstream.
	StateCreated State = iota

	// StateAwaitingUpstream means the upstream connection is being established.
	StateAwaitingUpstream

	// StateStreaming means audio and events are flowing in both directions.
	StateStreaming

	// StateClosed means both ends have been torn down. Terminal.
	StateClosed
)

// String returns the lowercase state name used in logs and tests.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingUpstream:
		return "awaiting_upstream"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ClientEvent is the JSON side-channel event relayed to the downstream
// client. Audio itself travels as binary WAV messages, never inside events.
type ClientEvent struct {
	Type       string `json:"type"`
	Role       string `json:"role,omitempty"`
	Status     string `json:"status,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

// Frame is one inbound client message. Binary WebSocket messages and HTTP
// audio payloads populate Audio; JSON text messages populate Text or Respond.
type Frame struct {
	// Audio is raw little-endian PCM16 to forward upstream.
	Audio []byte

	// Text is an out-of-band user text message to inject upstream.
	Text string

	// Respond requests an assistant response for the buffered input.
	Respond bool
}

// Transport abstracts the downstream side of a session so the same relay
// loop serves WebSocket and chunked-HTTP clients.
//
// Implementations must be safe for one concurrent reader (ReadFrame) and one
// concurrent writer (WriteAudio / WriteEvent); the session never interleaves
// writes from multiple goroutines.
type Transport interface {
	// ReadFrame returns the next inbound frame. It returns io.EOF when the
	// client has finished sending input (socket closed or request body
	// exhausted).
	ReadFrame(ctx context.Context) (Frame, error)

	// WriteAudio sends one complete WAV buffer downstream as a single binary
	// message or response chunk.
	WriteAudio(wav []byte) error

	// WriteEvent sends a JSON side-channel event downstream. Transports that
	// have no side channel (plain chunked audio responses) may discard it.
	WriteEvent(ev ClientEvent) error

	// Close tears down the downstream transport. Must be idempotent.
	Close() error
}

// Params configures a single relay session.
type Params struct {
	// Instructions is the system prompt applied to the upstream session.
	Instructions string

	// Voice selects the upstream synthesis voice.
	Voice string

	// Language hints the upstream transcription language.
	Language string

	// TranscriptionModel selects the upstream input-transcription model.
	TranscriptionModel string

	// SampleRate is the mono sample rate of inbound PCM and outbound WAV.
	// Defaults to 24000.
	SampleRate int

	// Timeout bounds the wait for upstream completions. Defaults to 30s.
	Timeout time.Duration

	// AutoRespond makes the session request a response once the client has
	// finished sending input, and close after the first completed utterance.
	// Used by the single-turn HTTP endpoint; WebSocket sessions leave it off
	// and let the upstream's turn detection drive responses.
	AutoRespond bool

	// PCMOutput selects integer PCM16 WAV output instead of the default
	// normalized-float envelope.
	PCMOutput bool
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithMetrics overrides the metrics sink. Tests use this to isolate
// instrument state from the global provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session pairs one downstream [Transport] with one upstream
// [realtime.SessionHandle]. Create it with [NewSession] and drive it with
// [Session.Run]; Run owns the full lifecycle and always returns with both
// ends closed.
type Session struct {
	provider realtime.Provider
	trans    Transport
	params   Params
	metrics  *observe.Metrics

	mu       sync.Mutex
	state    State
	upstream realtime.SessionHandle

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// inputDone is closed by the pump goroutine when the client has finished
	// sending audio (ReadFrame returned io.EOF).
	inputDone chan struct{}
}

// NewSession creates a session in [StateCreated]. Nothing is connected until
// [Session.Run] is called.
func NewSession(provider realtime.Provider, trans Transport, params Params, opts ...Option) *Session {
	if params.SampleRate <= 0 {
		params.SampleRate = defaultSampleRate
	}
	if params.Timeout <= 0 {
		params.Timeout = defaultTimeout
	}
	s := &Session{
		provider:  provider,
		trans:     trans,
		params:    params,
		state:     StateCreated,
		done:      make(chan struct{}),
		inputDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState advances the lifecycle state. Closed is sticky.
func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = st
	}
}

// Run connects upstream, pumps client audio up and upstream events down, and
// blocks until the session ends. It returns nil on a clean close (client
// disconnect, or the single completed turn in AutoRespond mode) and a relay
// sentinel-wrapped error otherwise. Both ends are guaranteed closed when Run
// returns, regardless of outcome.
func (s *Session) Run(ctx context.Context) (err error) {
	log := observe.Logger(ctx)
	start := time.Now()

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer func() {
		s.metrics.ActiveSessions.Add(ctx, -1)
		s.metrics.SessionDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			s.metrics.RecordRelayError(ctx, Kind(err))
		}
	}()

	s.setState(StateAwaitingUpstream)

	upstream, err := s.provider.Connect(ctx, realtime.Options{
		Instructions:       s.params.Instructions,
		Voice:              s.params.Voice,
		Language:           s.params.Language,
		TranscriptionModel: s.params.TranscriptionModel,
		InputSampleRate:    s.params.SampleRate,
	})
	if err != nil {
		connErr := fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		_ = s.trans.WriteEvent(ClientEvent{
			Type:  string(realtime.EventError),
			Error: "upstream session could not be established",
			Kind:  Kind(connErr),
		})
		s.teardown()
		return connErr
	}

	s.mu.Lock()
	s.upstream = upstream
	s.mu.Unlock()
	s.setState(StateStreaming)

	log.Info("relay session streaming",
		"voice", s.params.Voice,
		"sample_rate", s.params.SampleRate,
		"auto_respond", s.params.AutoRespond,
	)

	// Pump client frames upstream until EOF, error, or teardown.
	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- s.pumpFrames(ctx)
	}()

	err = s.consumeEvents(ctx)
	s.teardown()

	// The pump exits once the transport is closed; its error only matters
	// when the event loop itself ended cleanly.
	if perr := <-pumpErr; err == nil && perr != nil && !errors.Is(perr, io.EOF) {
		err = perr
	}

	if err != nil {
		log.Warn("relay session ended with error", "err", err, "kind", Kind(err))
	} else {
		log.Info("relay session closed")
	}
	return err
}

// pumpFrames reads client frames and forwards them upstream. Malformed audio
// (odd byte length) is reported to the client as a non-fatal bad_frame event
// and skipped. Returns nil once the client signals end of input; in
// AutoRespond mode a response is requested at that point. Any other read or
// forward failure tears the session down immediately.
func (s *Session) pumpFrames(ctx context.Context) error {
	defer close(s.inputDone)

	for {
		frame, err := s.trans.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				select {
				case <-s.done:
					return nil
				default:
				}
				if s.params.AutoRespond {
					if cerr := s.upstreamHandle().CreateResponse(); cerr != nil {
						s.teardown()
						return fmt.Errorf("%w: create response: %v", ErrUpstreamError, cerr)
					}
				} else {
					// The client hung up without requesting a response, so
					// the conversation is over and both ends come down.
					s.teardown()
				}
				return nil
			}
			select {
			case <-s.done:
				// Teardown already in progress, the read error is a side
				// effect of closing the transport.
				return nil
			default:
			}
			// Abnormal disconnect. The upstream comes down right away
			// rather than waiting out the session timer.
			s.teardown()
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
			}
			return fmt.Errorf("%w: read frame: %v", ErrBadRequest, err)
		}

		if err := s.forwardFrame(ctx, frame); err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			s.teardown()
			return err
		}
	}
}

// forwardFrame pushes one inbound frame's content upstream.
func (s *Session) forwardFrame(ctx context.Context, frame Frame) error {
	if frame.Text != "" {
		if err := s.upstreamHandle().SendText(frame.Text); err != nil {
			return fmt.Errorf("%w: send text: %v", ErrUpstreamError, err)
		}
	}
	if frame.Respond {
		if err := s.upstreamHandle().CreateResponse(); err != nil {
			return fmt.Errorf("%w: create response: %v", ErrUpstreamError, err)
		}
	}

	if !audio.ValidPCM16(frame.Audio) {
		_ = s.trans.WriteEvent(ClientEvent{
			Type:  string(realtime.EventError),
			Error: "audio frame is not a whole number of 16-bit samples",
			Kind:  Kind(ErrBadFrame),
		})
		return nil
	}
	if len(frame.Audio) == 0 {
		return nil
	}

	if err := s.upstreamHandle().SendAudio(frame.Audio); err != nil {
		return fmt.Errorf("%w: send audio: %v", ErrUpstreamError, err)
	}
	s.metrics.RecordFrame(ctx, "session")
	return nil
}

// consumeEvents relays upstream events downstream until the upstream channel
// closes, the bounded wait expires, or the context is cancelled. The wait
// timer restarts after every completed utterance, so multi-turn WebSocket
// conversations stay alive as long as the upstream keeps producing.
func (s *Session) consumeEvents(ctx context.Context) error {
	timer := time.NewTimer(s.params.Timeout)
	defer timer.Stop()

	events := s.upstreamHandle().Events()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())

		case <-timer.C:
			_ = s.trans.WriteEvent(ClientEvent{
				Type:  string(realtime.EventError),
				Error: "no upstream completion within the session wait bound",
				Kind:  Kind(ErrTimeout),
			})
			return ErrTimeout

		case ev, ok := <-events:
			if !ok {
				if uerr := s.upstreamHandle().Err(); uerr != nil {
					return fmt.Errorf("%w: %v", ErrUpstreamError, uerr)
				}
				return nil
			}

			done, err := s.handleEvent(ctx, ev)
			if err != nil {
				return err
			}
			if done {
				return nil
			}

			if ev.Type == realtime.EventSpeechCompleted {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.params.Timeout)
			}
		}
	}
}

// handleEvent relays one upstream event downstream. It returns done=true when
// the session should end cleanly (first completed utterance in AutoRespond
// mode).
func (s *Session) handleEvent(ctx context.Context, ev realtime.Event) (done bool, err error) {
	switch ev.Type {
	case realtime.EventSpeechInProgress:
		_ = s.trans.WriteEvent(ClientEvent{
			Type:   string(ev.Type),
			Role:   ev.Role,
			Status: ev.Status,
		})
		return false, nil

	case realtime.EventConversationUpdated:
		_ = s.trans.WriteEvent(ClientEvent{
			Type:       string(ev.Type),
			Role:       ev.Role,
			Status:     ev.Status,
			Transcript: ev.Transcript,
		})
		return false, nil

	case realtime.EventSpeechCompleted:
		// Only completed assistant audio is re-encoded and forwarded. The
		// transcript rides along as a side event for clients that want it.
		if ev.Role != realtime.RoleAssistant || ev.Status != realtime.StatusCompleted {
			return false, nil
		}

		if len(ev.Audio) > 0 {
			wav, encErr := s.encodeUtterance(ev.Audio)
			if encErr != nil {
				_ = s.trans.WriteEvent(ClientEvent{
					Type:  string(realtime.EventError),
					Error: "failed to encode assistant audio",
					Kind:  Kind(encErr),
				})
				return false, encErr
			}
			if werr := s.trans.WriteAudio(wav); werr != nil {
				return false, fmt.Errorf("%w: write audio: %v", ErrBadRequest, werr)
			}
			s.metrics.UtterancesRelayed.Add(ctx, 1)
		}

		_ = s.trans.WriteEvent(ClientEvent{
			Type:       string(ev.Type),
			Role:       ev.Role,
			Status:     ev.Status,
			Transcript: ev.Transcript,
		})

		return s.params.AutoRespond, nil

	case realtime.EventError:
		msg := "upstream error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		_ = s.trans.WriteEvent(ClientEvent{
			Type:  string(ev.Type),
			Error: msg,
			Kind:  Kind(ErrUpstreamError),
		})
		return false, fmt.Errorf("%w: %s", ErrUpstreamError, msg)

	default:
		// Unknown event types are ignored so upstream protocol additions do
		// not break running sessions.
		return false, nil
	}
}

// encodeUtterance converts raw PCM16 bytes from the upstream into the mono
// WAV envelope sent downstream, normalized float by default.
func (s *Session) encodeUtterance(pcm []byte) ([]byte, error) {
	encode := audio.EncodeWAVFloat32
	if s.params.PCMOutput {
		encode = audio.EncodeWAVPCM16
	}
	wav, err := encode(pcm, s.params.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailure, err)
	}
	return wav, nil
}

// upstreamHandle returns the current upstream handle. Only valid after
// [Session.Run] reached StateStreaming; callers inside the session guarantee
// that ordering.
func (s *Session) upstreamHandle() realtime.SessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream
}

// teardown closes both ends exactly once: upstream first so the vendor
// session is released even if the transport close fails, then the downstream
// transport. Safe to call from any goroutine and any number of times.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		upstream := s.upstream
		s.state = StateClosed
		s.mu.Unlock()

		var errs []error
		if upstream != nil {
			if err := upstream.Close(); err != nil {
				errs = append(errs, fmt.Errorf("relay: close upstream: %w", err))
			}
		}
		if err := s.trans.Close(); err != nil {
			errs = append(errs, fmt.Errorf("relay: close transport: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
}

// Close tears down the session from outside (downstream disconnect handling,
// server shutdown). Idempotent; returns the teardown error, if any.
func (s *Session) Close() error {
	s.teardown()
	return s.closeErr
}
