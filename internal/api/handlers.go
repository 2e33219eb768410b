package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ops-data-loaders/internal/pipeline"

	"github.com/google/uuid"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRuns acts as a multiplexer: POST starts a run, other verbs not allowed.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createRun(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunByID routes GET and DELETE for specific run IDs.
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	// Expected path: /runs/{id}
	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	if id == "" {
		http.Error(w, "run id missing", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getRun(w, id)
	case http.MethodDelete:
		s.cancelRun(w, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// createRun handles POST /runs
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.active != "" {
		active := s.active
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, RunResponse{RunID: active})
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s.runs[id] = &runEntry{
		status: &RunStatus{RunID: id, Status: StatusQueued, StartedAt: time.Now()},
		cancel: cancel,
	}
	s.active = id
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(ctx, id)

	writeJSON(w, http.StatusAccepted, RunResponse{RunID: id})
}

// execute runs the pipeline and records its outcome.
func (s *Server) execute(ctx context.Context, id string) {
	defer s.wg.Done()

	s.mu.Lock()
	entry := s.runs[id]
	if entry.status.Status == StatusQueued {
		entry.status.Status = StatusRunning
	}
	s.mu.Unlock()

	sum, err := s.safeRun(ctx, id)
	entry.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	finished := time.Now()
	entry.status.FinishedAt = &finished
	entry.status.apply(sum)
	switch {
	case entry.status.Status == StatusCancelled:
	case err != nil:
		s.log.WithField("run_id", id).Errorf("run failed: %v", err)
		entry.status.Status = StatusError
		entry.status.Error = err.Error()
	default:
		entry.status.Status = StatusFinished
	}
	if s.active == id {
		s.active = ""
	}
}

func (s *Server) safeRun(ctx context.Context, id string) (sum pipeline.Summary, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.run(ctx, id)
}

// getRun handles GET /runs/{id}
func (s *Server) getRun(w http.ResponseWriter, id string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[id]
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entry.status)
}

// cancelRun handles DELETE /runs/{id}
func (s *Server) cancelRun(w http.ResponseWriter, id string) {
	s.mu.Lock()
	entry, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if entry.status.FinishedAt == nil {
		entry.status.Status = StatusCancelled
	}
	s.mu.Unlock()

	entry.cancel()
	w.WriteHeader(http.StatusNoContent)
}
