// Package logging builds the process-wide logger. Components never reach for
// the global logrus instance; they receive a logrus.FieldLogger instead.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ops-data-loaders/internal/config"

	"github.com/sirupsen/logrus"
)

// New returns a configured logger plus a close func that must be called at
// shutdown to flush the optional log file.
func New(cfg config.LogConfig) (*logrus.Logger, func() error, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}

	closeFn := func() error { return nil }
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, f))
		closeFn = func() error {
			logger.SetOutput(os.Stderr)
			if err := f.Sync(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}
	}

	return logger, closeFn, nil
}
