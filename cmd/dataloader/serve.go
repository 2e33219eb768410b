package main

import (
	"context"
	"os"

	"ops-data-loaders/internal/api"
	"ops-data-loaders/internal/pipeline"

	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API that triggers and tracks runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(opts.log)
			defer cancel()

			run := func(ctx context.Context, id string) (pipeline.Summary, error) {
				runner, err := pipeline.Build(ctx, id, opts.cfg, opts.log)
				if err != nil {
					return pipeline.Summary{RunID: id}, err
				}
				return runner.Run(ctx), nil
			}

			return api.NewServer(run, opts.log).Serve(ctx, addr)
		},
	}

	port := os.Getenv("API_PORT")
	if port == "" {
		port = "8080"
	}
	cmd.Flags().StringVar(&addr, "addr", ":"+port, "listen address")
	return cmd
}
