// Package server exposes the Loba HTTP surface: the subscriber WebSocket,
// the audio ingest WebSocket, the embedded overlay and control pages, the
// operator toggle, and the usual health and metrics endpoints.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lobahq/loba/internal/config"
	"github.com/lobahq/loba/internal/health"
	"github.com/lobahq/loba/internal/hub"
	"github.com/lobahq/loba/internal/mode"
	"github.com/lobahq/loba/internal/observe"
	"github.com/lobahq/loba/internal/overlay"
)

//go:embed ui/overlay.html ui/control.html
var uiFS embed.FS

// AudioSource consumes one ingest connection's decoded PCM frames.
type AudioSource interface {
	ProcessFrame(pcm []byte)
	Close()
}

// SourceFactory creates an AudioSource for a newly connected microphone.
type SourceFactory func(microphone string) AudioSource

// Params collects the server's collaborators.
type Params struct {
	Config  config.ServerConfig
	Overlay config.OverlayConfig
	Audio   config.AudioConfig

	// Language is the tag overlay clients should expect on finals.
	Language  string
	Hub       *hub.Hub
	Mode      *mode.Controller
	Renderer  *overlay.Renderer
	NewSource SourceFactory
	Health    *health.Handler
	Metrics   *observe.Metrics
	Log       *slog.Logger
}

// Server is the Loba HTTP/WebSocket front end.
type Server struct {
	cfg        config.ServerConfig
	overlayCfg config.OverlayConfig
	audioCfg   config.AudioConfig
	language   string
	hub        *hub.Hub
	modes      *mode.Controller
	renderer   *overlay.Renderer
	newSource  SourceFactory
	health     *health.Handler
	metrics    *observe.Metrics
	log        *slog.Logger
}

// New creates a Server. Hub, Mode, and NewSource are required.
func New(p Params) *Server {
	if p.Log == nil {
		p.Log = slog.Default()
	}
	if p.Metrics == nil {
		p.Metrics = observe.DefaultMetrics()
	}
	if p.Health == nil {
		p.Health = health.New()
	}
	return &Server{
		cfg:        p.Config,
		overlayCfg: p.Overlay,
		audioCfg:   p.Audio,
		language:   p.Language,
		hub:        p.Hub,
		modes:      p.Mode,
		renderer:   p.Renderer,
		newSource:  p.NewSource,
		health:     p.Health,
		metrics:    p.Metrics,
		log:        p.Log,
	}
}

// Handler builds the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/overlay", http.StatusFound)
	})
	mux.HandleFunc("GET /overlay", s.servePage("ui/overlay.html"))
	mux.HandleFunc("GET /control", s.servePage("ui/control.html"))

	mux.HandleFunc("GET /ws", s.handleSubscribe)
	mux.HandleFunc("GET /ingest", s.handleIngest)

	mux.HandleFunc("GET /config", s.handleConfig)
	mux.HandleFunc("POST /toggle", s.handleToggle)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /preview", s.handlePreview)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// Run serves until ctx is cancelled, then drains with a short shutdown
// grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLS != nil {
			err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.Info("server listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.TLS != nil)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen on %s: %w", s.cfg.ListenAddr, err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) servePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := uiFS.ReadFile(name)
		if err != nil {
			http.Error(w, "page not found", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(data)
	}
}

// handleConfig serves the overlay display parameters so the page and the
// server cannot drift apart.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"subtitle_ttl_ms": s.overlayCfg.SubtitleTTLMs,
		"max_lines":       s.overlayCfg.MaxLines,
		"language":        s.language,
		"microphone":      s.audioCfg.Microphone,
	})
}

// handleToggle flips the subtitle mode. The flip runs its transition hooks
// (including the clear broadcast) before this returns, so the response state
// is already in force.
func (s *Server) handleToggle(w http.ResponseWriter, _ *http.Request) {
	enabled := s.modes.Toggle()
	st := s.modes.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": enabled,
		"epoch":   st.Epoch,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.modes.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          st.Enabled,
		"epoch":            st.Epoch,
		"subscribers":      s.hub.Count(),
		"events_delivered": s.hub.Delivered(),
	})
}

// handlePreview serves the server-side overlay state, the same view a
// connected overlay page would render.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	if s.renderer == nil {
		http.Error(w, "preview not enabled", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.renderer.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
