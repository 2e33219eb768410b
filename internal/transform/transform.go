package transform

import (
	"context"
	"fmt"
	"os"

	"ops-data-loaders/internal/config"
	"ops-data-loaders/internal/database"

	"github.com/sirupsen/logrus"
)

// Runner executes SQL scripts against their target schema.
type Runner struct {
	log logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Runner {
	return &Runner{log: log}
}

// Run executes scripts in order and returns how many committed. Each script
// runs in its own transaction; a failing script is rolled back and logged and
// the next script still runs.
func (r *Runner) Run(ctx context.Context, scripts []config.ScriptConfig, conns *database.Connections) int {
	if len(scripts) == 0 {
		r.log.Info("missing SQL scripts - skip")
		return 0
	}

	committed := 0
	for _, sc := range scripts {
		log := r.log.WithFields(logrus.Fields{"script": sc.Script, "schema": sc.Schema})

		if ctx.Err() != nil {
			log.WithError(ctx.Err()).Warn("transform interrupted")
			break
		}

		n, err := r.runScript(ctx, sc, conns)
		if err != nil {
			log.WithError(err).Error("SQL file error")
			continue
		}
		log.WithField("statements", n).Info("SQL file ran successfully")
		committed++
	}
	return committed
}

func (r *Runner) runScript(ctx context.Context, sc config.ScriptConfig, conns *database.Connections) (int, error) {
	conn, err := conns.Get(sc.Schema)
	if err != nil {
		return 0, err
	}

	raw, err := os.ReadFile(sc.Script)
	if err != nil {
		return 0, fmt.Errorf("failed to read script: %w", err)
	}

	stmts := SplitStatements(string(raw))
	if len(stmts) == 0 {
		return 0, nil
	}

	tx, err := conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("statement %d failed: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return len(stmts), nil
}
