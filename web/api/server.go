package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hochfrequenz/vat-batch/internal/launcher"
	"github.com/hochfrequenz/vat-batch/internal/monitor"
)

const serviceName = "vat-batch"

// Launcher runs a registered job by name
type Launcher interface {
	Launch(ctx context.Context, name string) (*launcher.Result, error)
}

// Monitor answers execution history queries
type Monitor interface {
	JobsStatus(ctx context.Context) (*monitor.Overview, error)
	JobHistory(ctx context.Context, jobName string) (*monitor.History, error)
	ExecutionDetail(ctx context.Context, id int64) (*monitor.Detail, error)
}

// ReadinessCheck is probed by /readyz
type ReadinessCheck struct {
	Name  string
	Check func(context.Context) error
}

// Config wires a Server
type Config struct {
	Launcher Launcher
	Monitor  Monitor
	Events   *Hub
	// Gatherer serves /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
	Checks   []ReadinessCheck
	Logger   *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	launcher Launcher
	monitor  Monitor
	hub      *Hub
	checks   []ReadinessCheck
	logger   *slog.Logger
	mux      *http.ServeMux
	gatherer prometheus.Gatherer
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Events == nil {
		cfg.Events = NewHub(cfg.Logger)
	}
	s := &Server{
		launcher: cfg.Launcher,
		monitor:  cfg.Monitor,
		hub:      cfg.Events,
		checks:   cfg.Checks,
		logger:   cfg.Logger,
		mux:      http.NewServeMux(),
		gatherer: cfg.Gatherer,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/batch/run/{name}", s.runJobHandler())
	s.mux.HandleFunc("GET /api/batch/jobs", s.jobsHandler())
	s.mux.HandleFunc("GET /api/batch/jobs/{jobName}", s.jobHistoryHandler())
	s.mux.HandleFunc("GET /api/batch/executions/{executionId}", s.executionHandler())
	s.mux.HandleFunc("GET /api/batch/events", s.sseHandler())
	s.mux.HandleFunc("GET /api/batch/events/ws", s.wsHandler())

	s.mux.HandleFunc("GET /healthz", healthzHandler())
	s.mux.HandleFunc("GET /readyz", s.readyzHandler())
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the routes wrapped in the request middleware
func (s *Server) Handler() http.Handler {
	return wrap(s.logger, s.mux)
}

// Events returns the lifecycle event hub
func (s *Server) Events() *Hub {
	return s.hub
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	if addr == "" {
		return errors.New("addr is required")
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, errMsg, message string) {
	body := map[string]string{"error": errMsg}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, code, body)
}
