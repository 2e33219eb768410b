package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ops-data-loaders/internal/config"
	"ops-data-loaders/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log *logrus.Logger
	// closeLog flushes the log file, if any.
	closeLog func() error
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "dataloader",
		Short:         "Extract ticketing data, load it into SQL and forward derived results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}

			log, closeLog, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			opts.cfg, opts.log, opts.closeLog = cfg, log, closeLog
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.closeLog != nil {
				return opts.closeLog()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level from the config file")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	return cmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(log logrus.FieldLogger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			log.Info("interrupt received, shutting down gracefully…")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
