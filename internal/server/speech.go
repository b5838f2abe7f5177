package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/MrWong99/echorelay/internal/observe"
	"github.com/MrWong99/echorelay/internal/relay"
)

// maxSpeechBody bounds a single-turn speech request body. Base64 inflates the
// audio by a third, so this allows a few minutes of PCM16 at 24 kHz.
const maxSpeechBody = 32 << 20

// speechRequest is the body of a single-turn POST /v1/speech request.
type speechRequest struct {
	// Audio is base64-encoded PCM16 little-endian mono audio.
	Audio string `json:"audio"`

	// Voice overrides the configured default voice when set.
	Voice string `json:"voice,omitempty"`

	// Instructions overrides the configured system prompt when set.
	Instructions string `json:"instructions,omitempty"`

	// Language overrides the configured default language when set.
	Language string `json:"language,omitempty"`

	// SampleRate overrides the configured input sample rate when set.
	SampleRate int `json:"sample_rate,omitempty"`

	// Format selects the response WAV encoding: "float32" (default) or
	// "pcm16" for raw integer samples.
	Format string `json:"format,omitempty"`
}

// handleSpeechHTTP runs a single-turn relay exchange: the whole request body
// is forwarded as one utterance, a response is requested, and the first
// completed assistant utterance is returned as a WAV body.
func (s *Server) handleSpeechHTTP(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSpeechBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, relay.Kind(relay.ErrBadRequest),
			fmt.Sprintf("decode request: %v", err))
		return
	}
	if req.Audio == "" {
		writeError(w, http.StatusBadRequest, relay.Kind(relay.ErrBadRequest), "audio is required")
		return
	}

	pcm, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		writeError(w, http.StatusBadRequest, relay.Kind(relay.ErrBadFrame),
			fmt.Sprintf("decode audio: %v", err))
		return
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		writeError(w, http.StatusBadRequest, relay.Kind(relay.ErrBadFrame),
			"audio must be non-empty PCM16 with an even byte count")
		return
	}

	params := s.sessionParams(r)
	params.AutoRespond = true
	if req.Voice != "" {
		params.Voice = req.Voice
	}
	if req.Instructions != "" {
		params.Instructions = req.Instructions
	}
	if req.Language != "" {
		params.Language = req.Language
	}
	if req.SampleRate != 0 {
		params.SampleRate = req.SampleRate
	}
	switch req.Format {
	case "", "float32":
	case "pcm16":
		params.PCMOutput = true
	default:
		writeError(w, http.StatusBadRequest, relay.Kind(relay.ErrBadRequest),
			fmt.Sprintf("unknown format %q, valid values: float32, pcm16", req.Format))
		return
	}

	trans := newHTTPTransport(w, pcm)
	sess := relay.NewSession(s.provider, trans, params, relay.WithMetrics(s.metrics))

	if err := sess.Run(r.Context()); err != nil {
		observe.Logger(r.Context()).Warn("http relay session failed",
			"err", err,
			"kind", relay.Kind(err),
		)
		if !trans.headersSent() {
			writeError(w, relayErrorStatus(err), relay.Kind(err), err.Error())
		}
		return
	}
	if !trans.headersSent() {
		// Clean session end without any assistant audio.
		writeError(w, http.StatusGatewayTimeout, relay.Kind(relay.ErrTimeout),
			"no assistant audio produced")
	}
}

// httpTransport adapts a one-shot request/response exchange to the relay
// Transport. It yields exactly one audio frame, then reports end of input so
// the session requests a response. The first WAV write commits the 200
// response; intermediate events have nowhere to go and are dropped.
type httpTransport struct {
	w   http.ResponseWriter
	pcm []byte

	mu       sync.Mutex
	consumed bool
	sent     bool
}

var _ relay.Transport = (*httpTransport)(nil)

func newHTTPTransport(w http.ResponseWriter, pcm []byte) *httpTransport {
	return &httpTransport{w: w, pcm: pcm}
}

// ReadFrame implements [relay.Transport]. The single buffered utterance is
// returned once, then io.EOF.
func (t *httpTransport) ReadFrame(ctx context.Context) (relay.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumed {
		return relay.Frame{}, io.EOF
	}
	t.consumed = true
	return relay.Frame{Audio: t.pcm}, nil
}

// WriteAudio implements [relay.Transport]. The first call sends the headers;
// later calls append further WAV bytes to the same body.
func (t *httpTransport) WriteAudio(wav []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sent {
		t.w.Header().Set("Content-Type", "audio/wav")
		t.w.WriteHeader(http.StatusOK)
		t.sent = true
	}
	if _, err := t.w.Write(wav); err != nil {
		return err
	}
	if f, ok := t.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// WriteEvent implements [relay.Transport]. The response body carries only
// audio, so events are discarded.
func (t *httpTransport) WriteEvent(relay.ClientEvent) error {
	return nil
}

// Close implements [relay.Transport]. The response writer is owned by
// net/http, so there is nothing to release.
func (t *httpTransport) Close() error {
	return nil
}

// headersSent reports whether the 200 response has been committed.
func (t *httpTransport) headersSent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}
