// Package serve provides a local HTTP API over the usage engine for widgets
// and scrapers
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"pkt.systems/pslog"

	"github.com/denysvitali/codexbar/internal/metrics"
	"github.com/denysvitali/codexbar/internal/snapshot"
	"github.com/denysvitali/codexbar/internal/usage"
)

// Config holds the server configuration
type Config struct {
	Addr string
	// SnapshotMaxAge is used when a snapshot request has no max_age
	SnapshotMaxAge time.Duration
	Version        string
}

// ProviderInfo describes a provider and its strategies in priority order
type ProviderInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Sources []string `json:"sources"`
}

// Server represents the HTTP server
type Server struct {
	config    Config
	resolve   snapshot.ResolveFunc
	snapshots *snapshot.Service
	providers []ProviderInfo
	server    *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, resolve snapshot.ResolveFunc, snapshots *snapshot.Service, providers []ProviderInfo) *Server {
	s := &Server{
		config:    cfg,
		resolve:   resolve,
		snapshots: snapshots,
		providers: providers,
	}
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/usage", s.handleUsage)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/providers", s.handleProviders)
	})
	return r
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	log := pslog.Ctx(ctx)
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	log.Info("starting server", "addr", s.config.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorBody struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
}

// handleUsage returns the usage payloads of the selected providers
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	selector, source := selection(r)
	stats, err := s.resolve(r.Context(), selector, source)
	if err != nil {
		body := errorBody{Error: err.Error()}
		status := http.StatusBadRequest
		if errors.Is(err, usage.ErrAllProvidersFailed) {
			status = http.StatusServiceUnavailable
			if stats != nil {
				body.Missing = stats.Missing
			}
		}
		writeJSON(r.Context(), w, status, body)
		return
	}

	payloads := make([]usage.Payload, 0, len(stats.Providers))
	for _, p := range stats.Providers {
		payloads = append(payloads, usage.NewPayload(p, s.config.Version))
	}
	writeJSON(r.Context(), w, http.StatusOK, payloads)
}

// handleSnapshot returns a widget snapshot, cached for max_age
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	selector, source := selection(r)
	maxAge := s.config.SnapshotMaxAge
	if raw := r.URL.Query().Get("max_age"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeJSON(r.Context(), w, http.StatusBadRequest, errorBody{Error: "invalid max_age: " + err.Error()})
			return
		}
		maxAge = d
	}

	snap, err := s.snapshots.Get(r.Context(), selector, source, maxAge)
	if err != nil {
		writeJSON(r.Context(), w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if envelope, _ := strconv.ParseBool(r.URL.Query().Get("envelope")); envelope {
		writeJSON(r.Context(), w, http.StatusOK, snap.Wrap())
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, snap)
}

// handleProviders returns the configured providers
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, s.providers)
}

// selection reads the provider and source query parameters
func selection(r *http.Request) (selector, source string) {
	q := r.URL.Query()
	selector = q.Get("provider")
	if selector == "" {
		selector = "all"
	}
	source = q.Get("source")
	if source == "" {
		source = usage.SourceAuto
	}
	return selector, source
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		pslog.Ctx(ctx).Warn("failed to encode response", "err", err)
	}
}

// Providers describes the engine's providers for the providers endpoint
func Providers(e *usage.Engine) []ProviderInfo {
	ids := e.ProviderIDs()
	out := make([]ProviderInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, ProviderInfo{ID: id, Name: usage.ProviderName(id), Sources: e.SourcesOf(id)})
	}
	return out
}
