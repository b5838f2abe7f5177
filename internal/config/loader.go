package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"realtime": {"openai", "mock"},
	"vision":   {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with the environment overlay applied. It is a convenience wrapper
// around [LoadFromReader], [ApplyEnv], and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r. It does not apply the
// environment overlay or validate; [Load] does both. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays process-environment values onto cfg. Environment values
// take precedence over the file for secrets (keys, tokens) and deployment
// plumbing (port), which are typically injected by the runtime rather than
// committed to a config file:
//
//	OPENAI_API_KEY          -> providers.realtime.api_key, providers.vision.api_key
//	PORT                    -> server.listen_addr (":$PORT")
//	ECHORELAY_BEARER_TOKEN  -> auth.bearer_token
//
// A missing OPENAI_API_KEY is not an error here: providers report the missing
// key when a session is established, so the process still starts and serves
// health checks.
func ApplyEnv(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Providers.Realtime.APIKey == "" {
			cfg.Providers.Realtime.APIKey = key
		}
		if cfg.Providers.Vision.APIKey == "" {
			cfg.Providers.Vision.APIKey = key
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.ListenAddr = ":" + port
	}
	if tok := os.Getenv("ECHORELAY_BEARER_TOKEN"); tok != "" {
		cfg.Auth.BearerToken = tok
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation, warn-only for unknown names.
	validateProviderName("realtime", cfg.Providers.Realtime.Name)
	validateProviderName("vision", cfg.Providers.Vision.Name)

	if cfg.Providers.Realtime.Name == "" {
		errs = append(errs, errors.New("providers.realtime.name is required"))
	}
	if cfg.Providers.Realtime.APIKey == "" {
		slog.Warn("providers.realtime.api_key is empty; relay sessions will fail until OPENAI_API_KEY is set")
	}
	if cfg.Providers.Vision.Name == "" {
		slog.Warn("providers.vision is not configured; the alt-text endpoint will be unavailable")
	}

	// Auth
	if cfg.Auth.BearerToken == "" {
		slog.Warn("auth.bearer_token is empty; protected endpoints will reject all requests")
	}

	// Relay defaults
	if cfg.Relay.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("relay.sample_rate %d must not be negative", cfg.Relay.SampleRate))
	}
	if cfg.Relay.SampleRate > 0 && (cfg.Relay.SampleRate < 8000 || cfg.Relay.SampleRate > 48000) {
		errs = append(errs, fmt.Errorf("relay.sample_rate %d is out of range [8000, 48000]", cfg.Relay.SampleRate))
	}
	if cfg.Relay.Timeout < 0 {
		errs = append(errs, fmt.Errorf("relay.timeout %s must not be negative", cfg.Relay.Timeout))
	}
	if cfg.Relay.Timeout > 0 && cfg.Relay.Timeout < time.Second {
		slog.Warn("relay.timeout is shorter than one second; sessions will time out before most responses arrive",
			"timeout", cfg.Relay.Timeout,
		)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
