// Command loba is the Loba live-subtitle server.
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

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lobahq/loba/internal/app"
	"github.com/lobahq/loba/internal/config"
	"github.com/lobahq/loba/internal/observe"
	"github.com/lobahq/loba/internal/resilience"
	"github.com/lobahq/loba/pkg/provider/stt"
	"github.com/lobahq/loba/pkg/provider/stt/whispercli"
	"github.com/lobahq/loba/pkg/provider/stt/whispernative"
	"github.com/lobahq/loba/pkg/provider/translate"
	translateanyllm "github.com/lobahq/loba/pkg/provider/translate/anyllm"
	translateopenai "github.com/lobahq/loba/pkg/provider/translate/openai"
	"github.com/lobahq/loba/pkg/provider/vad"
	"github.com/lobahq/loba/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "loba: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "loba: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("loba starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "loba",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, providers, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Transcribers ──────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper-cli", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whispercli.Option
		if entry.Language != "" {
			opts = append(opts, whispercli.WithLanguage(entry.Language))
		}
		if entry.Threads > 0 {
			opts = append(opts, whispercli.WithThreads(entry.Threads))
		}
		return whispercli.New(entry.BinaryPath, entry.ModelPath, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whispernative.Option
		if entry.Language != "" {
			opts = append(opts, whispernative.WithLanguage(entry.Language))
		}
		return whispernative.New(entry.ModelPath, opts...)
	})

	// ── Translators ───────────────────────────────────────────────────────────

	reg.RegisterTranslator("openai", func(tc config.TranslatorConfig) (translate.Translator, error) {
		var opts []translateopenai.Option
		if tc.BaseURL != "" {
			opts = append(opts, translateopenai.WithBaseURL(tc.BaseURL))
		}
		if tc.TimeoutS > 0 {
			opts = append(opts, translateopenai.WithTimeout(tc.Timeout()))
		}
		return translateopenai.New(tc.APIKey, tc.Model, tc.SourceLang, tc.TargetLang, opts...)
	})

	reg.RegisterTranslator("anyllm", func(tc config.TranslatorConfig) (translate.Translator, error) {
		var opts []anyllmlib.Option
		if tc.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(tc.APIKey))
		}
		if tc.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(tc.BaseURL))
		}
		return translateanyllm.New(tc.Provider, tc.Model, tc.SourceLang, tc.TargetLang, opts...)
	})

	reg.RegisterTranslator("passthrough", func(tc config.TranslatorConfig) (translate.Translator, error) {
		return &translate.Passthrough{Lang: tc.SourceLang}, nil
	})

	// ── Voice activity detectors ──────────────────────────────────────────────

	reg.RegisterVAD("energy", func(sc config.SegmenterConfig) (vad.Detector, error) {
		var opts []energy.Option
		if sc.EnergyThreshold > 0 {
			opts = append(opts, energy.WithThreshold(sc.EnergyThreshold))
		}
		if sc.StartFrames > 0 {
			opts = append(opts, energy.WithStartFrames(sc.StartFrames))
		}
		return energy.New(opts...), nil
	})
}

// buildProviders instantiates the pipeline stages named in cfg using the
// registry and returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	t, err := reg.CreateTranscriber(cfg.Transcriber)
	if err != nil {
		return nil, fmt.Errorf("create transcriber %q: %w", cfg.Transcriber.Name, err)
	}
	ps.Transcriber = t
	slog.Info("provider created", "kind", "transcriber", "name", cfg.Transcriber.Name)

	if fb := cfg.Transcriber.Fallback; fb != nil {
		secondary, err := reg.CreateTranscriber(*fb)
		if err != nil {
			return nil, fmt.Errorf("create fallback transcriber %q: %w", fb.Name, err)
		}
		chain := resilience.NewSTTFallback(t, cfg.Transcriber.Name, resilience.FallbackConfig{})
		chain.AddFallback(fb.Name, secondary)
		ps.Transcriber = chain
		slog.Info("provider created", "kind", "transcriber", "name", fb.Name, "role", "fallback")
	}

	if name := cfg.Translator.Name; name != "" {
		primary, err := reg.CreateTranslator(cfg.Translator)
		if err != nil {
			return nil, fmt.Errorf("create translator %q: %w", name, err)
		}
		// A caption in the wrong language beats a missing caption: every
		// translator degrades to passthrough when its backend is down.
		fb := resilience.NewTranslateFallback(primary, name, resilience.FallbackConfig{})
		if name != "passthrough" {
			fb.AddFallback("passthrough", &translate.Passthrough{Lang: cfg.Translator.SourceLang})
		}
		ps.Translator = fb
		slog.Info("provider created", "kind", "translator", "name", name)
	}

	detector := cfg.Segmenter.Detector
	ps.NewDetector = func() (vad.Detector, error) {
		return reg.CreateVAD(detector, cfg.Segmenter)
	}
	// Fail at startup, not on the first microphone connection.
	if _, err := ps.NewDetector(); err != nil {
		return nil, fmt.Errorf("create vad %q: %w", detector, err)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           Loba — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Transcriber", cfg.Transcriber.Name, cfg.Transcriber.ModelPath)
	printProvider("Translator", cfg.Translator.Name, cfg.Translator.Model)
	printProvider("Detector", cfg.Segmenter.Detector, "")
	if cfg.Translator.Name != "" {
		pair := cfg.Translator.SourceLang + " → " + cfg.Translator.TargetLang
		fmt.Printf("║  Languages       : %-19s ║\n", pair)
	}
	fmt.Printf("║  Microphone      : %-19s ║\n", cfg.Audio.Microphone)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
