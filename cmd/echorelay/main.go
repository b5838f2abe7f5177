// Command echorelay is the main entry point for the echorelay speech relay
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/echorelay/internal/config"
	"github.com/MrWong99/echorelay/internal/observe"
	"github.com/MrWong99/echorelay/internal/server"
	"github.com/MrWong99/echorelay/internal/vision"
	"github.com/MrWong99/echorelay/pkg/provider/realtime"
	rtmock "github.com/MrWong99/echorelay/pkg/provider/realtime/mock"
	rtopenai "github.com/MrWong99/echorelay/pkg/provider/realtime/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust verbosity
	// without recreating the handler.
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Load configuration (and keep watching it) ─────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.RelayChanged {
			slog.Info("relay session defaults changed, applying to new sessions")
		}
		if diff.AuthChanged {
			slog.Info("bearer token changed, applying to new requests")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "echorelay: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "echorelay: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("echorelay starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "echorelay",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := reg.CreateRealtime(cfg.Providers.Realtime)
	if err != nil {
		slog.Error("failed to create realtime provider", "name", cfg.Providers.Realtime.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "realtime", "name", cfg.Providers.Realtime.Name)

	opts := []server.Option{}
	if name := cfg.Providers.Vision.Name; name != "" {
		describer, err := reg.CreateVision(cfg.Providers.Vision)
		if err != nil {
			slog.Error("failed to create vision provider", "name", name, "err", err)
			return 1
		}
		opts = append(opts, server.WithDescriber(describer))
		slog.Info("provider created", "kind", "vision", "name", name)
	} else {
		slog.Warn("no vision provider configured, the alt-text endpoint will return 503")
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	srv := server.New(watcher.Current, provider, opts...)

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// echorelay into reg. Each factory receives a config.ProviderEntry and
// constructs the provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterRealtime("openai", func(entry config.ProviderEntry) (realtime.Provider, error) {
		var opts []rtopenai.Option
		if entry.Model != "" {
			opts = append(opts, rtopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, rtopenai.WithBaseURL(entry.BaseURL))
		}
		return rtopenai.New(entry.APIKey, opts...), nil
	})

	// mock echoes nothing and is only useful for wiring checks in local
	// development without an API key.
	reg.RegisterRealtime("mock", func(entry config.ProviderEntry) (realtime.Provider, error) {
		return &rtmock.Provider{}, nil
	})

	reg.RegisterVision("openai", func(entry config.ProviderEntry) (vision.Describer, error) {
		model := entry.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		var opts []vision.OpenAIOption
		if entry.BaseURL != "" {
			opts = append(opts, vision.WithBaseURL(entry.BaseURL))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, vision.WithPrompt(prompt))
		}
		return vision.NewOpenAI(entry.APIKey, model, opts...)
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        echorelay — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Realtime", cfg.Providers.Realtime.Name, cfg.Providers.Realtime.Model)
	printProvider("Vision", cfg.Providers.Vision.Name, cfg.Providers.Vision.Model)
	if cfg.Auth.BearerToken != "" {
		fmt.Printf("║  Auth            : %-19s ║\n", "bearer token")
	} else {
		fmt.Printf("║  Auth            : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
