package main

import (
	"fmt"

	"ops-data-loaders/internal/pipeline"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every source pipeline once, then transforms and webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(opts.log)
			defer cancel()

			runner, err := pipeline.Build(ctx, uuid.NewString(), opts.cfg, opts.log)
			if err != nil {
				return fmt.Errorf("failed to prepare run: %w", err)
			}

			sum := runner.Run(ctx)

			aborted := 0
			for _, rep := range sum.Sources {
				if rep.Err != nil {
					aborted++
					opts.log.WithFields(logrus.Fields{"run_id": sum.RunID, "source": rep.Source}).
						WithError(rep.Err).Warn("source did not complete")
				}
			}
			if strict && (aborted > 0 || sum.Dispatch.Failed > 0) {
				return fmt.Errorf("run %s: %d source(s) aborted, %d batch(es) failed", sum.RunID, aborted, sum.Dispatch.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when a source aborts or a webhook batch fails")
	return cmd
}
