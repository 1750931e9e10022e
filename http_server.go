package agewatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run stages reported on /healthz.
const (
	StageIdle       = "idle"
	StageMonitoring = "monitoring"
	StageLoading    = "loading"
	StageTraining   = "training"
	StageRendering  = "rendering"
	StageExporting  = "exporting"
	StageDone       = "done"
	StageFailed     = "failed"
)

// RunStatus is the externally visible state of a framework run.
type RunStatus struct {
	SessionID string    `json:"session_id,omitempty"`
	Mode      string    `json:"mode"`
	Model     string    `json:"model"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// statusTracker holds the current RunStatus.
type statusTracker struct {
	mu     sync.RWMutex
	status RunStatus
}

func (t *statusTracker) set(stage string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Stage = stage
	t.status.Error = ""
	if err != nil {
		t.status.Error = err.Error()
	}
	t.status.UpdatedAt = time.Now()
}

func (t *statusTracker) get() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// StatusServer serves /metrics, /healthz and the /live feed while a run is
// in progress.
type StatusServer struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

// NewStatusServer builds the server. status may be nil; hub may be nil to
// disable /live.
func NewStatusServer(status func() RunStatus, hub *LiveHub, logger *slog.Logger) *StatusServer {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		st := RunStatus{Stage: StageIdle, UpdatedAt: time.Now()}
		if status != nil {
			st = status()
		}
		code := http.StatusOK
		if st.Stage == StageFailed {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	})
	if hub != nil {
		mux.HandleFunc("/live", hub.WebSocketHandler())
	}

	return &StatusServer{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the router, mainly for tests.
func (s *StatusServer) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens on addr and serves in the background.
func (s *StatusServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", "err", err)
		}
	}()
	s.logger.Info("status server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *StatusServer) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close shuts the server down gracefully.
func (s *StatusServer) Close() error {
	if s == nil || s.ln == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
