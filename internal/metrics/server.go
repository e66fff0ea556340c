package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server exposes /metrics and /healthz while a run is in progress.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
	done   chan struct{}
}

// NewRouter builds the chi router served by Server.
func NewRouter(runID, phase string) chi.Router {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"run_id": runID,
			"phase":  phase,
		})
	})
	r.Method(http.MethodGet, "/metrics", Handler())
	return r
}

// Serve starts listening on addr and serves the router in the background.
func Serve(addr string, handler http.Handler, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	s := &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: logger,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics server listening", zap.String("addr", ln.Addr().String()))
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	<-s.done
	if err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
