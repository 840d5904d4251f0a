// Package server exposes the masking engine over HTTP: page HTML in,
// masked HTML out, plus registry and stats endpoints for a popup-style UI.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/abelbrown/spoilerguard/internal/config"
	"github.com/abelbrown/spoilerguard/internal/embed"
	"github.com/abelbrown/spoilerguard/internal/logging"
	"github.com/abelbrown/spoilerguard/internal/otel"
	"github.com/abelbrown/spoilerguard/internal/registry"
	"github.com/abelbrown/spoilerguard/internal/stats"
)

const (
	maxBodyBytes    = 8 << 20
	shutdownTimeout = 5 * time.Second
)

// Deps are the collaborators a Server needs. Everything but Registry and
// Config may be nil.
type Deps struct {
	Registry *registry.Registry
	Config   *config.Config
	Embedder embed.Embedder
	Events   *otel.Logger
	Ring     *otel.RingBuffer
	Stats    *stats.Store
	Recorder *stats.Recorder
}

// Server serves the HTTP API.
type Server struct {
	deps    Deps
	handler http.Handler
	logger  *log.Logger
}

// New builds a server and its router.
func New(d Deps) *Server {
	if d.Config == nil {
		d.Config = config.DefaultConfig()
	}
	s := &Server{deps: d, logger: logging.WithPrefix("server")}
	s.handler = buildRouter(s)
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen and serve: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		s.logger.Info("stopped")
		return nil
	case err := <-errCh:
		return err
	}
}
