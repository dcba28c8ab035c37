// Package api exposes the orderflow tool-call surface over HTTP.
//
// One endpoint per operation: line count, item assignment, progress, gate
// checks, checkout, status, reset, and conversational routing. Handlers are
// thin: they resolve the session, delegate to the flow manager, router, or
// purchase orchestrator, and wrap results in the shared JSON envelope.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/carriermax/orderflow/internal/flow"
	"github.com/carriermax/orderflow/internal/intent"
	"github.com/carriermax/orderflow/internal/purchase"
	"github.com/carriermax/orderflow/internal/store"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// Opts holds configuration for the API server.
type Opts struct {
	Addr string // listen address, e.g. ":8080"
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server wires the flow manager, router, classifier, and purchase
// orchestrator behind the HTTP surface.
type Server struct {
	mgr        *flow.ContextManager
	router     *flow.Router
	orch       *purchase.Orchestrator
	classifier intent.Classifier
	st         store.Store
	addr       string
}

// NewServer creates a Server. classifier may be nil, in which case the
// /route endpoint reports the capability as unavailable.
func NewServer(mgr *flow.ContextManager, router *flow.Router, orch *purchase.Orchestrator, classifier intent.Classifier, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("Creating API server", "addr", cfg.Addr, "hasClassifier", classifier != nil)
	return &Server{
		mgr:        mgr,
		router:     router,
		orch:       orch,
		classifier: classifier,
		st:         st,
		addr:       cfg.Addr,
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/lines", s.setLineCountHandler)
	mux.HandleFunc("/sessions/assign", s.assignItemHandler)
	mux.HandleFunc("/sessions/progress", s.progressHandler)
	mux.HandleFunc("/sessions/gate", s.gateHandler)
	mux.HandleFunc("/sessions/reset", s.resetHandler)
	mux.HandleFunc("/route", s.routeHandler)
	mux.HandleFunc("/checkout", s.checkoutHandler)
	mux.HandleFunc("/checkout/status", s.checkStatusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // checkout polling can be slow
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}
