// Command callbridge bridges Exotel phone calls to a Gemini Live session.
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utsavkredmint/exotel-based-call/internal/app"
	"github.com/utsavkredmint/exotel-based-call/internal/config"
	"github.com/utsavkredmint/exotel-based-call/internal/dialer"
	"github.com/utsavkredmint/exotel-based-call/internal/observe"
	"github.com/utsavkredmint/exotel-based-call/internal/resilience"
	"github.com/utsavkredmint/exotel-based-call/pkg/live"
	"github.com/utsavkredmint/exotel-based-call/pkg/live/gemini"
	"github.com/utsavkredmint/exotel-based-call/pkg/live/genai"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "path to a dotenv file; missing files are ignored")
	flag.Parse()

	if err := config.LoadDotenv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "callbridge: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "callbridge: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "callbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(cfg.Server.LogFormat, level))

	slog.Info("callbridge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "callbridge",
		ServiceVersion: version,
		Registry:       promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	liveProvider, err := buildLive(cfg, reg)
	if err != nil {
		slog.Error("failed to build live provider", "err", err)
		return 1
	}
	callDialer, err := buildDialer(cfg.Exotel)
	if err != nil {
		slog.Error("failed to build dialer", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, app.Providers{Live: liveProvider, Dialer: callDialer},
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithPrometheusRegistry(promReg),
		app.WithProviderBuilder(func(c *config.Config) (live.Provider, error) { return buildLive(c, reg) }),
		app.WithDialerBuilder(buildDialer),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.Reload(old, updated, d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go func() { _ = watcher.Run(ctx) }()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLive("gemini-live", func(e config.ProviderEntry) (live.Provider, error) {
		var opts []gemini.Option
		if e.Model != "" {
			opts = append(opts, gemini.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(e.BaseURL))
		}
		if e.APIVersion != "" {
			opts = append(opts, gemini.WithAPIVersion(e.APIVersion))
		}
		if optBool(e.Options, "output_transcription") {
			opts = append(opts, gemini.WithOutputTranscription())
		}
		return gemini.New(e.APIKey, opts...), nil
	})
	reg.RegisterLive("genai", func(e config.ProviderEntry) (live.Provider, error) {
		var opts []genai.Option
		if e.Model != "" {
			opts = append(opts, genai.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, genai.WithBaseURL(e.BaseURL))
		}
		if e.APIVersion != "" {
			opts = append(opts, genai.WithAPIVersion(e.APIVersion))
		}
		return genai.New(e.APIKey, opts...), nil
	})
}

// buildLive creates the primary live provider. When fallbacks are configured
// the primary and the fallbacks are wrapped in a [resilience.LiveFallback].
func buildLive(cfg *config.Config, reg *config.Registry) (live.Provider, error) {
	primary, err := reg.CreateLive(cfg.Live.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("live provider %q: %w", cfg.Live.Name, err)
	}
	if len(cfg.Live.Fallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewLiveFallback(primary, cfg.Live.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Live.Fallbacks {
		p, err := reg.CreateLive(entry)
		if err != nil {
			return nil, fmt.Errorf("live fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
	}
	slog.Info("live fallbacks configured", "chain", fb.Names())
	return fb, nil
}

// buildDialer returns nil when outbound calling is not configured. The
// result is never a typed nil inside the interface.
func buildDialer(e config.ExotelConfig) (app.Dialer, error) {
	if !e.Enabled() {
		return nil, nil
	}
	c, err := dialer.New(dialer.Config{
		APIKey:     e.APIKey,
		APIToken:   e.APIToken,
		AccountSID: e.AccountSID,
		Subdomain:  e.Subdomain,
		FlowID:     e.FlowID,
		CallerID:   e.CallerID,
		Timeout:    e.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       callbridge startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", cfg.Live.Name+" / "+cfg.Live.Model)
	printRow("Voice", cfg.Live.Voice)
	printRow("Fallbacks", fmt.Sprint(len(cfg.Live.Fallbacks)))
	if cfg.Exotel.Enabled() {
		printRow("Outbound calls", "enabled")
	} else {
		printRow("Outbound calls", "(disabled)")
	}
	if cfg.Live.Instructions != "" {
		printRow("Prompt", "inline instructions")
	} else {
		printRow("Catalog", orNone(cfg.Data.CatalogFile))
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Stream path", cfg.Server.StreamPath)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", key, value)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

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

// optBool extracts a bool from a provider Options map. Missing or non-bool
// values are false.
func optBool(opts map[string]any, key string) bool {
	v, _ := opts[key].(bool)
	return v
}
