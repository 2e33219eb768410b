package api

import (
	"time"

	"ops-data-loaders/internal/pipeline"
)

// Run states reported by GET /runs/{id}.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusFinished  = "finished"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// RunResponse is returned after a run was accepted, or with 409 when another
// run is still active.
type RunResponse struct {
	RunID string `json:"run_id"`
}

type EndpointStatus struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Loaded   int    `json:"loaded"`
	Archived int    `json:"archived"`
}

type SourceStatus struct {
	Source    string           `json:"source"`
	Endpoints []EndpointStatus `json:"endpoints"`
	Pruned    int              `json:"pruned"`
	Error     string           `json:"error,omitempty"`
}

type DispatchStatus struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// RunStatus represents the runtime state of a triggered run.
type RunStatus struct {
	RunID      string         `json:"run_id"`
	Status     string         `json:"status"` // queued | running | finished | error | cancelled
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Sources    []SourceStatus `json:"sources,omitempty"`
	Scripts    int            `json:"scripts"`
	Dispatch   DispatchStatus `json:"dispatch"`
}

// apply copies a pipeline summary into the status.
func (s *RunStatus) apply(sum pipeline.Summary) {
	s.Sources = make([]SourceStatus, 0, len(sum.Sources))
	for _, rep := range sum.Sources {
		src := SourceStatus{Source: rep.Source, Pruned: rep.Pruned}
		if rep.Err != nil {
			src.Error = rep.Err.Error()
		}
		for _, out := range rep.Outcomes {
			src.Endpoints = append(src.Endpoints, EndpointStatus{
				Type:     out.Type,
				Status:   string(out.Status),
				Loaded:   out.Loaded,
				Archived: out.Archived,
			})
		}
		s.Sources = append(s.Sources, src)
	}
	s.Scripts = sum.Scripts
	s.Dispatch = DispatchStatus(sum.Dispatch)
}
