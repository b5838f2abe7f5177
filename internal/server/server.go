// Package server exposes the echorelay HTTP surface: the WebSocket and
// chunked-HTTP speech relay endpoints, the alt-text endpoint, health probes,
// and Prometheus metrics. It owns the listener lifecycle; the relay session
// logic lives in internal/relay.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/echorelay/internal/config"
	"github.com/MrWong99/echorelay/internal/health"
	"github.com/MrWong99/echorelay/internal/observe"
	"github.com/MrWong99/echorelay/internal/relay"
	"github.com/MrWong99/echorelay/internal/vision"
	"github.com/MrWong99/echorelay/pkg/provider/realtime"
)

// shutdownTimeout bounds how long Run waits for in-flight requests after the
// context is cancelled.
const shutdownTimeout = 15 * time.Second

// Server wires the echorelay endpoints onto an HTTP listener.
//
// Configuration is read through a getter so a reloading watcher can swap the
// config without restarting the listener; every request sees the config that
// was current when it arrived.
type Server struct {
	cfg       func() *config.Config
	provider  realtime.Provider
	describer vision.Describer
	fetcher   *vision.Fetcher
	metrics   *observe.Metrics
}

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithDescriber enables the alt-text endpoint with the given describer.
// Without it the endpoint returns 503.
func WithDescriber(d vision.Describer) Option {
	return func(s *Server) {
		s.describer = d
	}
}

// WithFetcher overrides the image fetcher used by the alt-text endpoint.
func WithFetcher(f *vision.Fetcher) Option {
	return func(s *Server) {
		s.fetcher = f
	}
}

// WithMetrics overrides the metrics sink. Tests use this to isolate
// instrument state from the global provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a Server. cfg must never return nil; provider drives all relay
// sessions.
func New(cfg func() *config.Config, provider realtime.Provider, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetcher == nil {
		s.fetcher = vision.NewFetcher(nil)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler builds the full route table, wrapped in CORS and observability
// middleware. Exposed separately from [Server.Run] so tests can drive it
// through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	auth := s.requireBearer

	mux.Handle("GET /ws/speech", auth(http.HandlerFunc(s.handleSpeechWS)))
	mux.Handle("POST /v1/speech", auth(http.HandlerFunc(s.handleSpeechHTTP)))
	mux.Handle("POST /v1/alt-text", auth(http.HandlerFunc(s.handleAltText)))

	hc := health.New(
		health.ProviderConfigured("realtime", func() bool {
			return s.cfg().Providers.Realtime.APIKey != ""
		}),
	)
	hc.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = observe.Middleware(s.metrics)(handler)
	handler = s.cors(handler)
	return handler
}

// Run serves the endpoints until ctx is cancelled, then drains in-flight
// requests. It returns nil on a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.cfg()

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			slog.Info("listening with TLS", "addr", cfg.Server.ListenAddr)
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("listening", "addr", cfg.Server.ListenAddr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// sessionParams builds relay session parameters from the current config
// defaults, letting the request override voice and language.
func (s *Server) sessionParams(r *http.Request) relay.Params {
	rc := s.cfg().Relay
	p := relay.Params{
		Instructions:       rc.Instructions,
		Voice:              rc.Voice,
		Language:           rc.Language,
		TranscriptionModel: rc.TranscriptionModel,
		SampleRate:         rc.SampleRate,
		Timeout:            rc.Timeout,
	}
	q := r.URL.Query()
	if v := q.Get("voice"); v != "" {
		p.Voice = v
	}
	if l := q.Get("language"); l != "" {
		p.Language = l
	}
	return p
}

// errorBody is the JSON error envelope shared by all endpoints.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError emits the JSON error envelope with the given status.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Kind: kind})
}

// relayErrorStatus maps a terminal relay error to an HTTP status code for
// responses whose headers have not been sent yet.
func relayErrorStatus(err error) int {
	switch {
	case errors.Is(err, relay.ErrBadRequest), errors.Is(err, relay.ErrBadFrame):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, relay.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, relay.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		// UpstreamUnavailable, EncodingFailure, UpstreamError, unknown.
		return http.StatusInternalServerError
	}
}
