// Package app wires all Loba subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives the HTTP server and the pipeline worker, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHub,
// WithModeController). When an option is not provided, New creates real
// instances from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lobahq/loba/internal/config"
	"github.com/lobahq/loba/internal/health"
	"github.com/lobahq/loba/internal/hub"
	"github.com/lobahq/loba/internal/hygiene"
	"github.com/lobahq/loba/internal/mode"
	"github.com/lobahq/loba/internal/observe"
	"github.com/lobahq/loba/internal/overlay"
	"github.com/lobahq/loba/internal/pipeline"
	"github.com/lobahq/loba/internal/segment"
	"github.com/lobahq/loba/internal/server"
	"github.com/lobahq/loba/pkg/provider/stt"
	"github.com/lobahq/loba/pkg/provider/translate"
	"github.com/lobahq/loba/pkg/provider/vad"
	"github.com/lobahq/loba/pkg/subtitle"
)

// Providers holds the pluggable pipeline stages. Populated by main.go via
// the config registry. Translator may be nil; finals then carry the source
// text. NewDetector is called once per ingest connection because detectors
// keep per-stream state.
type Providers struct {
	Transcriber stt.Transcriber
	Translator  translate.Translator
	NewDetector func() (vad.Detector, error)
}

// App owns all subsystem lifetimes and orchestrates the subtitle pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	// Subsystems — initialised in New, torn down in Shutdown.
	modes    *mode.Controller
	hub      *hub.Hub
	queue    *segment.Queue
	renderer *overlay.Renderer
	orch     *pipeline.Orchestrator
	srv      *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHub injects a broadcast hub instead of creating one from config.
func WithHub(h *hub.Hub) Option {
	return func(a *App) { a.hub = h }
}

// WithModeController injects a mode controller instead of creating one from
// config.
func WithModeController(m *mode.Controller) Option {
	return func(a *App) { a.modes = m }
}

// WithLogger sets the logger used by all subsystems. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithMetrics injects a metrics set instead of using the global meter
// provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry); its Transcriber and
// NewDetector fields are required.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if providers == nil || providers.Transcriber == nil {
		return nil, errors.New("app: a transcriber provider is required")
	}
	if providers.NewDetector == nil {
		return nil, errors.New("app: a detector factory is required")
	}
	// Native transcribers hold a loaded model that must be released.
	if c, ok := providers.Transcriber.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	// ── 1. Mode controller ───────────────────────────────────────────────
	if a.modes == nil {
		a.modes = mode.New(cfg.Pipeline.StartEnabledOrDefault(), a.log)
	}

	// ── 2. Broadcast hub + overlay preview ──────────────────────────────
	a.initHub()

	// ── 3. Segment queue ─────────────────────────────────────────────────
	a.queue = segment.NewQueue(cfg.Server.SegmentQueue, a.log)

	// ── 4. Pipeline orchestrator + clear fence ──────────────────────────
	a.initPipeline()

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// initHub creates the broadcast hub (unless injected) and attaches the
// server-side overlay renderer as an internal subscriber so /preview mirrors
// what connected overlay pages show.
func (a *App) initHub() {
	if a.hub == nil {
		var lastCount int64
		a.hub = hub.New(a.log,
			hub.WithQueueSize(a.cfg.Server.SubscriberQueue),
			hub.WithCountCallback(func(n int64) {
				delta := n - atomic.SwapInt64(&lastCount, n)
				a.metrics.Subscribers.Add(context.Background(), delta)
			}),
		)
		a.closers = append(a.closers, func() error {
			a.hub.Close()
			return nil
		})
	}

	a.renderer = overlay.NewRenderer(a.cfg.Overlay.MaxLines, a.cfg.Overlay.SubtitleTTL())
	a.hub.Subscribe(&previewSink{renderer: a.renderer})
}

// initPipeline builds the orchestrator and registers the disable hook that
// broadcasts the clear fence. The hook runs synchronously inside the mode
// transition, so by the time a toggle request returns, the clear is out.
func (a *App) initPipeline() {
	filter := hygiene.NewFilter(a.cfg.Hygiene.Fillers, a.cfg.Hygiene.Similarity)
	merger := hygiene.NewMerger(a.cfg.Hygiene.MinWords, a.cfg.Hygiene.MaxHold())

	srcLang := a.cfg.Translator.SourceLang
	if srcLang == "" {
		srcLang = a.cfg.Transcriber.Language
	}

	a.orch = pipeline.New(pipeline.Params{
		Transcriber: a.providers.Transcriber,
		Translator:  a.providers.Translator,
		Filter:      filter,
		Merger:      merger,
		Sink:        a.hub,
		Mode:        a.modes,
		Metrics:     a.metrics,
		Log:         a.log,
		Config: pipeline.Config{
			STTTimeout:       a.cfg.Transcriber.Timeout(),
			TranslateTimeout: a.cfg.Translator.Timeout(),
			EmitPartials:     a.cfg.Pipeline.EmitPartials,
			SourceLanguage:   srcLang,
		},
	})

	a.modes.OnTransition(func(enabled bool) {
		if !enabled {
			a.orch.EmitClear()
		}
	})
}

// initServer assembles the HTTP front end with its per-connection audio
// source factory and health checks.
func (a *App) initServer() {
	checks := health.New(health.Checker{
		Name: "transcriber",
		Check: func(context.Context) error {
			if !a.providers.Transcriber.Available() {
				return errors.New("transcriber backend unavailable")
			}
			return nil
		},
	})

	language := a.cfg.Transcriber.Language
	if a.providers.Translator != nil {
		_, language = a.providers.Translator.Languages()
	}

	a.srv = server.New(server.Params{
		Config:    a.cfg.Server,
		Overlay:   a.cfg.Overlay,
		Audio:     a.cfg.Audio,
		Language:  language,
		Hub:       a.hub,
		Mode:      a.modes,
		Renderer:  a.renderer,
		NewSource: a.newSource,
		Health:    checks,
		Metrics:   a.metrics,
		Log:       a.log,
	})
}

// newSource builds the segmenter chain for one ingest connection. Each
// connection gets its own detector and segmenter; the queue and mode
// controller are shared.
func (a *App) newSource(microphone string) server.AudioSource {
	det, err := a.providers.NewDetector()
	if err != nil {
		// The factory was validated at startup; a failure here means the
		// backend degraded at runtime. Drop the connection's audio.
		a.log.Error("detector creation failed, ignoring ingest stream",
			"microphone", microphone, "error", err)
		return discardSource{}
	}

	seg := segment.New(det, microphone, a.cfg.Segmenter.SegmentConfig(), a.log)
	return segment.NewSource(seg, a.queue, a.modes, a.cfg.Audio.SampleRate, a.cfg.Audio.Channels)
}

// Run starts the HTTP server and the pipeline worker and blocks until ctx is
// cancelled or either of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.Run(ctx)
	})
	g.Go(func() error {
		err := a.orch.Run(ctx, a.queue.C())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("app running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"subtitles_enabled", a.modes.Enabled(),
	)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		// Stop accepting segments first so the worker drains.
		a.queue.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// previewSink feeds broadcast events into the server-side overlay renderer.
type previewSink struct {
	renderer *overlay.Renderer
}

var _ hub.Sink = (*previewSink)(nil)

func (p *previewSink) Deliver(_ context.Context, ev subtitle.Event) error {
	p.renderer.Apply(ev)
	return nil
}

func (p *previewSink) Close() error { return nil }

// discardSource swallows frames from a connection whose detector could not
// be created.
type discardSource struct{}

func (discardSource) ProcessFrame([]byte) {}
func (discardSource) Close()              {}
