package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/docpress/internal/assemble"
	"git.home.luguber.info/inful/docpress/internal/version"
)

// HealthStatus represents the overall health of the daemon.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
)

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status    HealthStatus     `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   string           `json:"version"`
	Building  bool             `json:"building"`
	LastRun   *LastRunSummary  `json:"last_run,omitempty"`
}

// LastRunSummary is the condensed view of the most recent run.
type LastRunSummary struct {
	RunID   string           `json:"run_id"`
	Outcome assemble.Outcome `json:"outcome"`
	End     time.Time        `json:"end"`
}

// HTTPServer serves health, metrics, and an output-tree preview.
type HTTPServer struct {
	addr   string
	daemon *Daemon
	srv    *http.Server
	ln     net.Listener
}

// NewHTTPServer creates the server; Start binds the listener.
func NewHTTPServer(addr string, d *Daemon) *HTTPServer {
	return &HTTPServer{addr: addr, daemon: d}
}

// Start pre-binds the listener so address conflicts fail fast, then serves
// in a background goroutine.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", s.previewHandler())

	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "error", err)
		}
	}()
	slog.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, useful when the configured port is 0.
func (s *HTTPServer) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.daemon.startTime).Truncate(time.Second).String(),
		Version:   version.Version,
		Building:  s.daemon.Building(),
	}
	if report := s.daemon.LastReport(); report != nil {
		resp.LastRun = &LastRunSummary{RunID: report.RunID, Outcome: report.Outcome, End: report.End}
		if report.Outcome == assemble.OutcomeFailed || report.Outcome == assemble.OutcomeCanceled {
			resp.Status = HealthStatusDegraded
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != HealthStatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// previewHandler serves the output tree, refusing while the tree may be
// stale or half-built after a failed run.
func (s *HTTPServer) previewHandler() http.Handler {
	files := http.FileServer(http.Dir(s.daemon.cfg.Output.Directory))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if report := s.daemon.LastReport(); report != nil &&
			(report.Outcome == assemble.OutcomeFailed || report.Outcome == assemble.OutcomeCanceled) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":  "last build failed, preview unavailable",
				"run_id": report.RunID,
			})
			return
		}
		files.ServeHTTP(w, r)
	})
}

// Stop gracefully shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
