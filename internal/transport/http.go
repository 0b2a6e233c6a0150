// Package transport provides HTTP API handlers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/logging"
	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// ErrNoHistory is returned by RunsAPI implementations without a run store.
var ErrNoHistory = errors.New("run history is disabled")

// Pagination limits for /v1/runs.
const (
	defaultRunsLimit = 50
	maxRunsLimit     = 100
)

// RunsAPI is what the handlers need from the load generator.
type RunsAPI interface {
	Status() types.LiveStatus
	ListRuns(ctx context.Context, limit, offset int) (*types.RunList, error)
	// GetRun returns nil, nil when the run does not exist.
	GetRun(ctx context.Context, id string) (*types.RunDetail, error)
	DeleteRun(ctx context.Context, id string) error
}

// HealthChecker checks the Solana RPC node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	CORSAllowedOrigins string              // comma separated, empty or "*" allows all
	Gatherer           prometheus.Gatherer // nil uses the default registry
	StatusInterval     time.Duration       // websocket push interval
	Logger             *zap.Logger
}

// Server handles HTTP requests for the load generator.
type Server struct {
	api       RunsAPI
	health    HealthChecker
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	corsAllowedOrigins []string
	corsAllowAll       bool
}

// NewServer creates a new HTTP server. health may be nil.
func NewServer(api RunsAPI, health HealthChecker, cfg ServerConfig) *Server {
	logger := logging.OrNop(cfg.Logger).Named("http")
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		api:       api,
		health:    health,
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  NewWebSocketServer(api, cfg.StatusInterval, logger),
	}

	origins := strings.TrimSpace(cfg.CORSAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		for _, o := range strings.Split(origins, ",") {
			s.corsAllowedOrigins = append(s.corsAllowedOrigins, strings.TrimSpace(o))
		}
	}
	return s
}

// WebSocket returns the live status stream.
func (s *Server) WebSocket() *WebSocketServer {
	return s.wsServer
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/runs", s.corsMiddleware(s.handleRuns))
	mux.HandleFunc("/v1/runs/", s.corsMiddleware(s.handleRunDetail))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// ListenAndServe serves Handler on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wsServer.Start()
	defer s.wsServer.Stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, map[string]string{"error": message}, statusCode)
}

// handleStatus returns the live status of the current or last run.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.api.Status(), http.StatusOK)
}

// handleRuns returns run history with optional pagination.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultRunsLimit
	offset := 0
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxRunsLimit {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	result, err := s.api.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.writeAPIError(w, "Failed to list runs", err)
		return
	}
	s.writeJSON(w, result, http.StatusOK)
}

// handleRunDetail handles GET and DELETE /v1/runs/{id}.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/")
	if id == "" || strings.Contains(id, "/") {
		s.writeJSONError(w, "Missing run ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		detail, err := s.api.GetRun(r.Context(), id)
		if err != nil {
			s.writeAPIError(w, "Failed to get run", err)
			return
		}
		if detail == nil {
			s.writeJSONError(w, "Run not found", http.StatusNotFound)
			return
		}
		s.writeJSON(w, detail, http.StatusOK)

	case http.MethodDelete:
		if err := s.api.DeleteRun(r.Context(), id); err != nil {
			s.writeAPIError(w, "Failed to delete run", err)
			return
		}
		s.writeJSON(w, map[string]bool{"deleted": true}, http.StatusOK)

	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeAPIError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, ErrNoHistory) {
		s.writeJSONError(w, err.Error(), http.StatusNotImplemented)
		return
	}
	s.logger.Error(message, zap.Error(err))
	s.writeJSONError(w, message+": "+err.Error(), http.StatusInternalServerError)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	}, http.StatusOK)
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok" or "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	ready := true

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		start := time.Now()
		err := s.health.Ping(ctx)
		check := ReadinessCheck{Name: "solana-rpc", Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			ready = false
		}
		checks = append(checks, check)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, map[string]any{"ready": ready, "checks": checks}, status)
}
