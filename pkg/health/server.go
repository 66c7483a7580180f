// Package health exposes liveness and readiness endpoints for the
// gateway process.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tinyland-inc/bridgeclaw/pkg/channels"
	"github.com/tinyland-inc/bridgeclaw/pkg/logger"
)

type Server struct {
	srv      *http.Server
	statusFn func() []channels.Status
}

// NewServer builds the health listener. statusFn supplies the per-channel
// availability snapshot for /ready.
func NewServer(host string, port int, statusFn func() []channels.Status) *Server {
	s := &Server{statusFn: statusFn}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	s.srv = &http.Server{
		Addr:              net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		logger.InfoCF("health", "listening", map[string]any{"addr": s.srv.Addr})
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("health", "server stopped", map[string]any{"error": err.Error()})
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports 200 when every enabled channel is available, 503
// otherwise, with the per-channel snapshot either way.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	statuses := s.statusFn()

	ready := true
	for _, st := range statuses {
		if !st.Available {
			ready = false
			break
		}
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ready":    ready,
		"channels": statuses,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
