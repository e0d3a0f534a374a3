// Package ops serves the local operations endpoint: health probe,
// Prometheus scrape and optional pprof. Bound to loopback by default;
// exposing it wider is the host firewall's problem, not ours.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"clubbot/internal/config"
	"clubbot/internal/observability/metrics"
	logx "clubbot/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

// HealthFunc reports process health for /healthz. A nil error means
// healthy; the error text is returned to the probe on 503.
type HealthFunc func(ctx context.Context) error

// Server manages the ops HTTP listener lifecycle. Apply starts, stops
// or restarts it to match the config; reloads call Apply again.
type Server struct {
	mu      sync.Mutex
	log     logx.Logger
	health  HealthFunc
	started time.Time

	srv   *http.Server
	ln    net.Listener
	addr  string
	pprof bool
}

func New(log logx.Logger, health HealthFunc) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log.With(logx.String("comp", "ops")), health: health, started: time.Now()}
}

// Apply reconciles the listener with cfg. nil or disabled config stops
// a running server; an address or pprof change restarts it.
func (s *Server) Apply(ctx context.Context, cfg *config.OpsConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg == nil || !cfg.Enabled {
		s.stopLocked(ctx)
		return
	}
	addr := cfg.Addr
	if addr == "" {
		addr = defaultAddr
	}

	if s.srv != nil && s.addr == addr && s.pprof == cfg.Pprof {
		return
	}

	s.stopLocked(ctx)
	s.startLocked(addr, cfg.Pprof)
}

func (s *Server) startLocked(addr string, withPprof bool) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	if withPprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Warn("ops listen failed", logx.String("addr", addr), logx.Err(err))
		return
	}

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()
	s.pprof = withPprof

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("ops server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("ops endpoint up", logx.String("addr", s.addr), logx.Bool("pprof", withPprof))
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv := s.srv
	ln := s.ln
	addr := s.addr
	s.srv = nil
	s.ln = nil
	s.addr = ""

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("ops shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("ops endpoint down", logx.String("addr", addr))
}

// Addr reports the actual listen address, empty when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.health != nil {
		if err := s.health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
