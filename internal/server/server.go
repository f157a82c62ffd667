// Package server exposes the control API: the context operation endpoint,
// the websocket sync endpoint, health, and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/contexthub/internal/config"
	"git.home.luguber.info/inful/contexthub/internal/daemon"
	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
	"git.home.luguber.info/inful/contexthub/internal/logfields"
	"git.home.luguber.info/inful/contexthub/internal/metrics"
)

// Server hosts the HTTP surface of the daemon.
type Server struct {
	cfg     *config.HTTPConfig
	daemon  *daemon.Daemon
	adapter *ferrors.HTTPErrorAdapter
	httpSrv *http.Server
}

// New wires routes and middleware. A nil registry disables /metrics.
func New(cfg *config.HTTPConfig, d *daemon.Daemon, reg *prom.Registry) *Server {
	s := &Server{
		cfg:     cfg,
		daemon:  d,
		adapter: ferrors.NewHTTPErrorAdapter(slog.Default()),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/context", s.handleContext)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	if reg != nil {
		mux.Handle("GET /metrics", metrics.HTTPHandler(reg))
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain(slog.Default(), s.adapter)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("control API listening", slog.String("addr", s.cfg.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "control API failed").Build()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", logfields.Error(err))
		return s.httpSrv.Close()
	}
	return nil
}
