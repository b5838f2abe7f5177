package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// listener changes require a restart and are deliberately ignored.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level differs. The new level
	// can be applied to a running server through a [log/slog.LevelVar].
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RelayChanged is true when any relay session default differs. New
	// sessions pick up the updated defaults; running sessions are unaffected.
	RelayChanged bool
	NewRelay     RelayConfig

	// AuthChanged is true when auth.bearer_token differs. Applies to the
	// next request; in-flight requests keep the token they were checked with.
	AuthChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Relay != new.Relay {
		d.RelayChanged = true
		d.NewRelay = new.Relay
	}

	if old.Auth.BearerToken != new.Auth.BearerToken {
		d.AuthChanged = true
	}

	return d
}
