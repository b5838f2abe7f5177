// Package config provides the configuration schema, loader, provider
// registry, and file watcher for the echorelay server.
package config

import "time"

// LogLevel controls log verbosity for the echorelay server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for echorelay.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// then overlaid with environment values via [ApplyEnv].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Providers ProvidersConfig `yaml:"providers"`
	Relay     RelayConfig     `yaml:"relay"`
}

// ServerConfig holds network and logging settings for the echorelay server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists origins permitted by the CORS layer. An empty list
	// allows any origin, matching the permissive default of browser demos.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AuthConfig configures bearer-token authentication for the protected
// endpoints. When BearerToken is empty those endpoints reject every request
// with 401, so deployments must set it (usually via environment overlay).
type AuthConfig struct {
	// BearerToken is the server-held secret compared against the
	// Authorization header.
	BearerToken string `yaml:"bearer_token"`
}

// ProvidersConfig declares which provider implementation to use for each
// upstream concern. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	// Realtime is the streaming speech provider driving relay sessions.
	Realtime ProviderEntry `yaml:"realtime"`

	// Vision is the image-description provider behind the alt-text endpoint.
	Vision ProviderEntry `yaml:"vision"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or
	// nested maps.
	Options map[string]any `yaml:"options"`
}

// RelayConfig holds the default session parameters applied to every relay
// session. Clients may override some of them per request.
type RelayConfig struct {
	// Instructions is the system prompt applied to upstream sessions.
	Instructions string `yaml:"instructions"`

	// Voice selects the upstream synthesis voice (e.g., "alloy").
	Voice string `yaml:"voice"`

	// Language hints the upstream transcription language (e.g., "en").
	Language string `yaml:"language"`

	// TranscriptionModel selects the upstream input-transcription model.
	TranscriptionModel string `yaml:"transcription_model"`

	// SampleRate is the mono PCM sample rate in Hz. 0 means 24000.
	SampleRate int `yaml:"sample_rate"`

	// Timeout bounds the wait for upstream completions. 0 means 30s.
	Timeout time.Duration `yaml:"timeout"`
}
