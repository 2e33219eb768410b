// Package archive retires loaded staging documents. Archive and Prune are
// best-effort per file: a failure is logged and the remaining files are still
// processed.
package archive

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"ops-data-loaders/internal/staging"

	"github.com/sirupsen/logrus"
)

// Archiver relocates consumed documents to long-term storage and deletes
// archived documents older than the retention window.
type Archiver interface {
	// Archive moves files and returns how many were archived.
	Archive(ctx context.Context, files []string) int
	// Prune deletes archived documents past retention and returns how many
	// were deleted.
	Prune(ctx context.Context) int
}

// LocalArchiver archives into a directory on the local file system.
type LocalArchiver struct {
	dir       string
	retention time.Duration
	now       func() time.Time
	log       logrus.FieldLogger
}

// NewLocal returns an archiver for dir with the given retention window.
func NewLocal(dir string, retention time.Duration, log logrus.FieldLogger) *LocalArchiver {
	return &LocalArchiver{dir: dir, retention: retention, now: time.Now, log: log.WithField("archive", dir)}
}

// Dir returns the archive directory.
func (a *LocalArchiver) Dir() string { return a.dir }

func (a *LocalArchiver) Archive(ctx context.Context, files []string) int {
	moved := 0
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		dest, err := staging.Move(f, a.dir)
		if err != nil {
			a.log.WithError(err).WithField("file", f).Error("failed to archive file")
			continue
		}
		a.log.WithField("file", dest).Debug("file archived")
		moved++
	}
	if moved > 0 {
		a.log.Infof("archived %d of %d files", moved, len(files))
	}
	return moved
}

func (a *LocalArchiver) Prune(ctx context.Context) int {
	return PruneDirs(ctx, []string{a.dir}, a.retention, a.now(), a.log)
}

// PruneDirs deletes regular files directly inside dirs whose modification
// time is more than retention before now. Subdirectories are not descended.
func PruneDirs(ctx context.Context, dirs []string, retention time.Duration, now time.Time, log logrus.FieldLogger) int {
	deleted := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				log.WithError(err).WithField("dir", dir).Error("failed to list archive directory")
			}
			continue
		}

		for _, e := range entries {
			if ctx.Err() != nil {
				return deleted
			}
			if !e.Type().IsRegular() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				log.WithError(err).WithField("file", e.Name()).Warn("failed to stat archived file")
				continue
			}
			if now.Sub(info.ModTime()) <= retention {
				continue
			}

			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				log.WithError(err).WithField("file", path).Error("failed to delete archived file")
				continue
			}
			log.WithField("file", path).Debug("archived file deleted")
			deleted++
		}
	}
	if deleted > 0 {
		log.Infof("deleted %d archived files older than %s", deleted, retention)
	}
	return deleted
}
