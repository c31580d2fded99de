// Package http serves health checks, Prometheus metrics and the live
// session monitor.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"translate-hub/pkg/config"
	"translate-hub/pkg/metrics"
	"translate-hub/pkg/version"
)

// HealthCheck reports a dependency's health. A nil error is healthy.
type HealthCheck func() error

// HealthStatus is the /health response body
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult is one health check outcome
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains process resource information
type SystemInfo struct {
	GoRoutines int    `json:"goroutines"`
	MemoryMB   uint64 `json:"memory_mb"`
	Monitors   int    `json:"monitor_clients"`
}

// Server is the HTTP server for health checks, metrics and monitoring
type Server struct {
	cfg        config.HTTPConfig
	logger     *logrus.Entry
	httpServer *http.Server
	mux        *http.ServeMux
	monitor    *Monitor
	startTime  time.Time

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewServer creates the server. monitor may be nil to disable /ws.
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, monitor *Monitor) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger.WithField("component", "http"),
		mux:       http.NewServeMux(),
		monitor:   monitor,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheck),
	}

	s.mux.HandleFunc("/health", addServerHeader(s.HealthHandler))
	s.mux.HandleFunc("/health/live", addServerHeader(s.LivenessHandler))
	s.mux.HandleFunc("/status", addServerHeader(s.statusHandler))

	if cfg.EnableMetrics {
		metrics.RegisterHandler(s.mux)
		s.logger.Info("Prometheus metrics endpoint enabled at /metrics")
	} else {
		s.logger.Info("Metrics endpoints disabled")
	}

	if monitor != nil {
		s.mux.HandleFunc("/ws", monitor.ServeWs)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func addServerHeader(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", version.ServerHeader())
		next(w, r)
	}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// AddHealthCheck registers a named dependency check for /health
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("http listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.WithField("port", s.cfg.Port).Info("HTTP server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// HealthHandler runs every registered check. Any failure answers 503.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    make(map[string]CheckResult),
	}

	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.checks[name](); err != nil {
			health.Checks[name] = CheckResult{Status: "unhealthy", Message: err.Error()}
			health.Status = "unhealthy"
			continue
		}
		health.Checks[name] = CheckResult{Status: "healthy"}
	}
	s.mu.RUnlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	health.System = SystemInfo{
		GoRoutines: runtime.NumGoroutine(),
		MemoryMB:   mem.Alloc / 1024 / 1024,
	}
	if s.monitor != nil {
		health.System.Monitors = s.monitor.Clients()
	}

	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// LivenessHandler answers as long as the process serves HTTP
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":          "ok",
		"uptime":          time.Since(s.startTime).String(),
		"version":         version.Version,
		"started_at":      s.startTime.Format(time.RFC3339),
		"metrics_enabled": metrics.IsMetricsEnabled(),
	}
	if s.monitor != nil {
		status["monitor_clients"] = s.monitor.Clients()
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
