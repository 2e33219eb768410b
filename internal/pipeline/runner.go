package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"ops-data-loaders/internal/archive"
	"ops-data-loaders/internal/config"
	"ops-data-loaders/internal/database"
	"ops-data-loaders/internal/fetcher"
	"ops-data-loaders/internal/loader"
	"ops-data-loaders/internal/sink"
	"ops-data-loaders/internal/staging"
	"ops-data-loaders/internal/transform"
	"ops-data-loaders/internal/webhook"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Summary is the outcome of one full run.
type Summary struct {
	RunID    string
	Sources  []Report
	Scripts  int
	Dispatch webhook.Summary
}

// Runner owns the schema connections for one run. Sources run concurrently
// and are joined before the transform and dispatch phases start.
type Runner struct {
	ID           string
	Env          string
	Integrations []*Integration
	Conns        *database.Connections
	Scripts      []config.ScriptConfig
	Webhooks     []config.WebhookConfig
	Transform    *transform.Runner
	Dispatcher   *webhook.Dispatcher
	Log          logrus.FieldLogger
}

// Run executes the whole pipeline once. The connections are closed when Run
// returns, whatever the outcome of each phase.
func (r *Runner) Run(ctx context.Context) Summary {
	defer func() {
		if err := r.Conns.Close(); err != nil {
			r.Log.WithError(err).Error("failed to close connections")
		}
	}()

	start := time.Now()
	sum := Summary{RunID: r.ID, Sources: make([]Report, len(r.Integrations))}
	r.Log.WithField("sources", len(r.Integrations)).Info("run started")

	var g errgroup.Group
	for i, in := range r.Integrations {
		i, in := i, in
		g.Go(func() error {
			sum.Sources[i] = in.Run(ctx)
			return nil
		})
	}
	g.Wait()

	sum.Scripts = r.Transform.Run(ctx, r.Scripts, r.Conns)
	sum.Dispatch = r.Dispatcher.Dispatch(ctx, r.Webhooks, r.Conns, r.Env)

	r.Log.WithFields(logrus.Fields{
		"elapsed":  time.Since(start).Round(time.Millisecond),
		"scripts":  sum.Scripts,
		"batches":  sum.Dispatch.Sent,
		"failures": sum.Dispatch.Failed,
	}).Info("run finished")
	return sum
}

// Build opens the schema connections and wires one Integration per source.
// An empty id gets a fresh one. On error nothing is left open.
func Build(ctx context.Context, id string, cfg *config.Config, log logrus.FieldLogger) (*Runner, error) {
	if id == "" {
		id = uuid.NewString()
	}
	log = log.WithField("run_id", id)

	conns, err := database.Open(ctx, cfg.Database, cfg.Retry, log)
	if err != nil {
		return nil, err
	}

	retention := time.Duration(cfg.Project.RetentionDays) * 24 * time.Hour
	now := time.Now()

	integrations := make([]*Integration, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		in, err := buildIntegration(ctx, cfg, src, conns, retention, now, log.WithField("source", src.Name))
		if err != nil {
			conns.Close()
			return nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		integrations = append(integrations, in)
	}

	return &Runner{
		ID:           id,
		Env:          cfg.Env,
		Integrations: integrations,
		Conns:        conns,
		Scripts:      cfg.SQLScripts,
		Webhooks:     cfg.Webhooks,
		Transform:    transform.New(log),
		Dispatcher:   webhook.New(nil, log),
		Log:          log,
	}, nil
}

func buildIntegration(ctx context.Context, cfg *config.Config, src config.SourceConfig, conns *database.Connections,
	retention time.Duration, now time.Time, log logrus.FieldLogger) (*Integration, error) {
	store, err := staging.New(filepath.Join(cfg.Project.DataDir, src.Name))
	if err != nil {
		return nil, err
	}

	conn, err := conns.Get(src.Schema)
	if err != nil {
		return nil, err
	}
	sk := sink.NewRetrySink(sink.NewSQLSink(conn), cfg.Retry.Attempts, cfg.Retry.DelayMS, log)

	var arch archive.Archiver
	switch cfg.Archive.Type {
	case "s3":
		arch, err = archive.NewObject(ctx, cfg.Archive.S3, src.Name, retention, log)
		if err != nil {
			return nil, err
		}
	default:
		arch = archive.NewLocal(filepath.Join(cfg.Project.ArchiveDir, src.Name), retention, log)
	}

	f := fetcher.New(fetcher.Options{
		Timeout:   time.Duration(src.TimeoutSeconds) * time.Second,
		MaxPages:  src.MaxPages,
		RateLimit: src.RateLimit,
	}, log)

	return &Integration{
		Name:        src.Name,
		Endpoints:   src.Endpoints,
		Credentials: fetcher.Credentials{Username: src.APIKey, Password: src.Password},
		Since:       fetcher.Since(now, src.IntervalDays),
		Fetcher:     f,
		Store:       store,
		Loader:      loader.New(store, sk, log),
		Archiver:    arch,
		Log:         log,
	}, nil
}
