// Package api serves the Torque upload endpoint and the diagnostics API.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/torque2mqtt/internal/buildinfo"
	"github.com/nugget/torque2mqtt/internal/config"
	"github.com/nugget/torque2mqtt/internal/events"
	"github.com/nugget/torque2mqtt/internal/metrics"
	"github.com/nugget/torque2mqtt/internal/mqtt"
	"github.com/nugget/torque2mqtt/internal/opstate"
	"github.com/nugget/torque2mqtt/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// writeJSON encodes v as JSON to w. Failures usually mean the client went
// away and are only logged at debug.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Publisher delivers the current state of a session.
type Publisher interface {
	Publish(ctx context.Context, sessionID string) error
}

// LinkStatus reports the broker link state.
type LinkStatus interface {
	Status() mqtt.Status
}

// History summarizes persisted link events.
type History interface {
	Summarize() (opstate.Summary, error)
}

// Server is the HTTP server the Torque app uploads to.
type Server struct {
	address   string
	port      int
	store     *session.Store
	publisher Publisher
	link      LinkStatus
	history   History
	bus       *events.Bus
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	server    *http.Server
}

// NewServer creates a server. Call [Server.Start] to begin listening.
func NewServer(address string, port int, store *session.Store, publisher Publisher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:   address,
		port:      port,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// SetLink sets the broker link reported by /health. Without one the
// server reports raw mode.
func (s *Server) SetLink(l LinkStatus) { s.link = l }

// SetHistory sets the link history reported by /health.
func (s *Server) SetHistory(h History) { s.history = h }

// SetEventBus sets the bus feeding /v1/stream and receiving upload events.
func (s *Server) SetEventBus(b *events.Bus) { s.bus = b }

// SetMetrics sets the collectors updated on upload and the gatherer
// served at /metrics.
func (s *Server) SetMetrics(m *metrics.Metrics, g prometheus.Gatherer) {
	s.metrics = m
	s.gatherer = g
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Torque upload
	mux.HandleFunc("GET /{$}", s.handleUpload)

	// Diagnostics
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/sessions", s.handleSessionList)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return s.withLogging(mux)
}

// Start listens until the server is shut down. It returns
// [http.ErrServerClosed] after a graceful [Server.Shutdown].
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting upload server", "address", s.address, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// statusRecorder captures the response code for the request log. It
// passes hijacking through for websocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.logger.Log(r.Context(), config.LevelTrace, "upload", "query", r.URL.RawQuery)

	pairs, err := session.ParseQuery(r.URL.RawQuery)
	if err != nil {
		s.metrics.Rejected("bad_query")
		http.Error(w, "malformed query", http.StatusBadRequest)
		return
	}

	id := session.ID(pairs)
	res, err := s.store.Classify(id, pairs)
	if errors.Is(err, session.ErrMissingSession) {
		s.metrics.Rejected("missing_session")
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("classify upload failed", "session", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.metrics.Upload(res.Known, res.Ignored, res.Unknown)
	s.metrics.SetSessions(s.store.Len())
	s.bus.Emit(events.SourceIngest, events.KindUpload, map[string]any{
		"session": id,
		"known":   res.Known,
		"ignored": res.Ignored,
		"unknown": res.Unknown,
	})

	if err := s.publisher.Publish(r.Context(), id); err != nil {
		s.logger.Warn("publish failed", "session", id, "error", err)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "OK!")
}

type healthResponse struct {
	Status   string           `json:"status"`
	Version  string           `json:"version"`
	Uptime   string           `json:"uptime"`
	Sessions int              `json:"sessions"`
	Mode     string           `json:"mode"`
	MQTT     *mqtt.Status     `json:"mqtt,omitempty"`
	History  *opstate.Summary `json:"history,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "healthy",
		Version:  buildinfo.Version,
		Uptime:   buildinfo.Uptime().String(),
		Sessions: s.store.Len(),
		Mode:     config.FormatRaw,
	}
	if s.link != nil {
		st := s.link.Status()
		resp.Mode = config.FormatJSON
		resp.MQTT = &st
		if !st.Connected {
			resp.Status = "degraded"
		}
	}
	if s.history != nil {
		if sum, err := s.history.Summarize(); err != nil {
			s.logger.Warn("link history unavailable", "error", err)
		} else {
			resp.History = &sum
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"sessions": s.store.List()}, s.logger)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := s.store.Snapshot(id)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"id": id, "record": rec}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
