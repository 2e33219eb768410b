// Package api exposes an HTTP surface to trigger and inspect pipeline runs.
// Only one run is active at a time.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"ops-data-loaders/internal/pipeline"

	"github.com/sirupsen/logrus"
)

// RunFunc executes one pipeline run identified by id.
type RunFunc func(ctx context.Context, id string) (pipeline.Summary, error)

// Server encapsulates the HTTP router and run registry.
type Server struct {
	mux *http.ServeMux
	run RunFunc
	log logrus.FieldLogger

	mu     sync.RWMutex
	runs   map[string]*runEntry
	active string
	wg     sync.WaitGroup
}

type runEntry struct {
	status *RunStatus
	cancel context.CancelFunc // allows cancellation via DELETE /runs/{id}
}

// NewServer builds a server that starts runs through run.
func NewServer(run RunFunc, log logrus.FieldLogger) *Server {
	s := &Server{
		mux:  http.NewServeMux(),
		run:  run,
		log:  log,
		runs: make(map[string]*runEntry),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth) // GET /health
	s.mux.HandleFunc("/runs", s.handleRuns)     // POST /runs
	s.mux.HandleFunc("/runs/", s.handleRunByID) // GET/DELETE /runs/{id}
}

// Handler returns the router wrapped in the logging and recovery middlewares.
func (s *Server) Handler() http.Handler {
	return s.recoveryMiddleware(s.loggingMiddleware(s.mux))
}

// Serve listens on addr until ctx is done, then shuts down and cancels the
// active run.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP server running on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)

	s.cancelActive()
	s.wg.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) cancelActive() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.runs[s.active]; ok && e.cancel != nil {
		e.cancel()
	}
}

// Simple request logger middleware.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Infof("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware catches panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Errorf("panic recovered: %v", rec)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
