package loader

import (
	"context"

	"ops-data-loaders/internal/parser"
	"ops-data-loaders/internal/sink"
	"ops-data-loaders/internal/staging"

	"github.com/sirupsen/logrus"
)

// Loader moves staged documents of one source into its schema.
type Loader struct {
	store *staging.Store
	sink  sink.Sink
	log   logrus.FieldLogger
}

// New returns a Loader reading from store and writing through sk.
func New(store *staging.Store, sk sink.Sink, log logrus.FieldLogger) *Loader {
	return &Loader{store: store, sink: sk, log: log}
}

// Load writes every staged document of docType into table and returns the
// documents that were fully written. Documents that fail to parse or insert
// are logged and left staged so the next run retries them.
func (l *Loader) Load(ctx context.Context, docType, table string) []string {
	log := l.log.WithFields(logrus.Fields{"type": docType, "table": table})

	files, err := l.store.List(docType)
	if err != nil {
		log.WithError(err).Error("failed to list staged documents")
		return nil
	}

	var consumed []string
	for _, path := range files {
		if ctx.Err() != nil {
			log.WithError(ctx.Err()).Warn("load interrupted")
			break
		}

		flog := log.WithField("file", path)

		data, err := l.store.Read(path)
		if err != nil {
			flog.WithError(err).Error("failed to read staged document")
			continue
		}

		records, err := parser.Parse(data)
		if err != nil {
			flog.WithError(err).Error("failed to parse staged document")
			continue
		}

		if err := l.sink.Write(ctx, table, records); err != nil {
			flog.WithError(err).Error("failed to load staged document")
			continue
		}

		flog.WithField("records", len(records)).Info("staged document loaded")
		consumed = append(consumed, path)
	}
	return consumed
}
