// Package pipeline runs the extract-stage-load-archive flow for every source
// and then the transform and dispatch phases.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ops-data-loaders/internal/archive"
	"ops-data-loaders/internal/config"
	"ops-data-loaders/internal/fetcher"
	"ops-data-loaders/internal/staging"

	"github.com/sirupsen/logrus"
)

// Fetcher retrieves every page of one endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, creds fetcher.Credentials, ep config.Endpoint, since string) fetcher.Result
}

// Loader consumes the staged documents of one type and returns the paths it
// fully wrote.
type Loader interface {
	Load(ctx context.Context, docType, table string) []string
}

// Outcome is the result of one endpoint step.
type Outcome struct {
	Type     string
	Status   fetcher.Status
	Staged   string
	Loaded   int
	Archived int
}

// Report summarizes one source run. Err is set when an unexpected error
// aborted the remaining endpoints.
type Report struct {
	Source   string
	Outcomes []Outcome
	Pruned   int
	Err      error
}

// Integration is the pipeline of a single source. Endpoints run strictly in
// order; the source owns its staging directory.
type Integration struct {
	Name        string
	Endpoints   []config.Endpoint
	Credentials fetcher.Credentials
	Since       string

	Fetcher  Fetcher
	Store    *staging.Store
	Loader   Loader
	Archiver archive.Archiver

	Now func() time.Time
	Log logrus.FieldLogger
}

// Run processes every endpoint and prunes the archive once at the end, even
// when an endpoint aborted the run.
func (in *Integration) Run(ctx context.Context) Report {
	rep := Report{Source: in.Name}

	if len(in.Endpoints) == 0 {
		in.Log.Info("missing endpoints - skip")
	}

	for _, ep := range in.Endpoints {
		if err := ctx.Err(); err != nil {
			rep.Err = err
			break
		}

		out, err := in.step(ctx, ep)
		rep.Outcomes = append(rep.Outcomes, out)
		if err != nil {
			in.Log.WithError(err).WithField("type", ep.Type).Error("source aborted, remaining endpoints skipped")
			rep.Err = err
			break
		}
	}

	rep.Pruned = in.Archiver.Prune(ctx)
	return rep
}

// step runs pending-check, fetch, stage, load and archive for one endpoint.
// Source failures are reported through the outcome; only unexpected errors
// and panics are returned.
func (in *Integration) step(ctx context.Context, ep config.Endpoint) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	out.Type = ep.Type
	log := in.Log.WithField("type", ep.Type)

	pending, err := in.Store.Pending(ep.Type)
	if err != nil {
		return out, err
	}

	var res fetcher.Result
	if pending {
		res = fetcher.NewPending(ep.Type, ep.URL, "staged documents awaiting load, fetch skipped")
	} else {
		res = in.Fetcher.Fetch(ctx, in.Credentials, ep, in.Since)
	}
	out.Status = res.Status()

	switch r := res.(type) {
	case fetcher.Success:
		if len(r.Data) == 0 {
			log.WithField("status", out.Status).Info("no data returned")
			return out, nil
		}
		data, err := json.Marshal(r.Data)
		if err != nil {
			return out, fmt.Errorf("failed to encode payload: %w", err)
		}
		path, err := in.Store.Create(ep.Type, data, in.now())
		if err != nil {
			return out, err
		}
		out.Staged = path
		log.WithFields(logrus.Fields{"file": path, "items": len(r.Data)}).Info("document staged")
	case fetcher.Pending:
		log.WithField("status", out.Status).Info(r.Message)
	case fetcher.Failure:
		log.WithField("status", out.Status).Warn("endpoint skipped until next run")
		return out, nil
	default:
		return out, fmt.Errorf("unexpected fetch result %T", res)
	}

	consumed := in.Loader.Load(ctx, ep.Type, ep.Table)
	out.Loaded = len(consumed)
	if len(consumed) > 0 {
		out.Archived = in.Archiver.Archive(ctx, consumed)
	}
	return out, nil
}

func (in *Integration) now() time.Time {
	if in.Now != nil {
		return in.Now().UTC()
	}
	return time.Now().UTC()
}
