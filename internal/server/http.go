package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trvslhlt/live-audio-translator/internal/config"
	"github.com/trvslhlt/live-audio-translator/internal/metrics"
	"github.com/trvslhlt/live-audio-translator/internal/pipeline"
	"github.com/trvslhlt/live-audio-translator/internal/session"
	"github.com/trvslhlt/live-audio-translator/internal/transcription"
)

// StatusProvider reports the live pipeline state
type StatusProvider interface {
	Status() pipeline.Status
}

// TranscriptionStats reports transcription client counters
type TranscriptionStats interface {
	GetStats() transcription.ClientStats
}

// ThresholdTuner adjusts voice activity detection while capture runs
type ThresholdTuner interface {
	SetSilenceThreshold(threshold float64) error
}

// Deps are the components the API reports on. Library, Transcription, VAD
// and Gatherer may be nil.
type Deps struct {
	Status        StatusProvider
	Sessions      *session.Manager
	Library       *session.Library
	Transcription TranscriptionStats
	VAD           ThresholdTuner
	Gatherer      prometheus.Gatherer
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	deps    Deps
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config, deps Deps, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		deps:      deps,
		metrics:   m,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, fmt.Sprint(cfg.Port)),
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return h
}

// Handler returns the API routes
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("GET /sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("GET /sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("PUT /vad/threshold", h.withMetrics("/vad/threshold", h.handleThreshold))

	gatherer := h.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
	return mux
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, time.Since(startTime).Seconds())
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.logger.Info("Starting HTTP API server", slog.String("address", ln.Addr().String()))

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.deps.Status.Status()

	state := "healthy"
	if status.CaptureError != "" {
		state = "degraded"
	}

	components := map[string]any{
		"capture": map[string]any{
			"running":    status.Running,
			"error":      status.CaptureError,
			"queue_size": status.QueueDepth,
			"dropped":    status.DroppedUtterances,
		},
		"library": map[string]any{
			"enabled": h.deps.Library != nil,
		},
	}
	if h.deps.Transcription != nil {
		stats := h.deps.Transcription.GetStats()
		components["transcription"] = map[string]any{
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     state,
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.startTime).String(),
		"components": components,
	})
}

func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Status.Status())
}

func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Library == nil {
		writeError(w, http.StatusServiceUnavailable, "session library disabled")
		return
	}

	records, err := h.deps.Library.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list sessions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if records == nil {
		records = []session.LibraryRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_sessions": len(records),
		"timestamp":      time.Now().UTC(),
		"sessions":       records,
	})
}

func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if h.deps.Library == nil {
		writeError(w, http.StatusServiceUnavailable, "session library disabled")
		return
	}

	id := r.PathValue("id")
	rec, err := h.deps.Library.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotInLibrary) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to look up session", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to look up session")
		return
	}

	loaded, err := h.deps.Sessions.LoadSessionFolder(rec.Folder)
	if errors.Is(err, session.ErrInvalidSessionFolder) {
		writeError(w, http.StatusGone, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, loaded)
}

// handleConfig returns the configuration without API keys
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config
	writeJSON(w, http.StatusOK, map[string]any{
		"audio": c.Audio,
		"capture": map[string]any{
			"driver": c.Capture.Driver,
			"device": c.Capture.Device,
			"udp":    c.Capture.UDP,
		},
		"transcription": map[string]any{
			"endpoint":       c.Transcription.Endpoint,
			"model":          c.Transcription.Model,
			"timeout":        c.Transcription.Timeout,
			"max_retries":    c.Transcription.MaxRetries,
			"max_concurrent": c.Transcription.MaxConcurrent,
			"temperature":    c.Transcription.Temperature,
		},
		"translation": map[string]any{
			"endpoint":    c.Translation.Endpoint,
			"timeout":     c.Translation.Timeout,
			"max_retries": c.Translation.MaxRetries,
			"pairs":       c.Translation.Pairs,
		},
		"session":  c.Session,
		"pipeline": c.Pipeline,
		"logging":  c.Logging,
	})
}

func (h *HTTPServer) handleThreshold(w http.ResponseWriter, r *http.Request) {
	if h.deps.VAD == nil {
		writeError(w, http.StatusServiceUnavailable, "voice activity detection is not adjustable")
		return
	}

	var req struct {
		Threshold *float64 `json:"threshold"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&req); err != nil || req.Threshold == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"threshold\": <0..1>}")
		return
	}
	if err := h.deps.VAD.SetSilenceThreshold(*req.Threshold); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"threshold": *req.Threshold})
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "live-audio-translator",
		"endpoints": map[string]string{
			"GET /":              "API documentation",
			"GET /health":        "Health check",
			"GET /status":        "Live pipeline status",
			"GET /sessions":      "Saved session library",
			"GET /sessions/{id}": "Saved session with transcript",
			"GET /config":        "Configuration without credentials",
			"PUT /vad/threshold": "Adjust the silence threshold",
			"GET /metrics":       "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
