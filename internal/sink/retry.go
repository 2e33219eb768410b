package sink

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RetrySink decorates another Sink adding automatic retry capabilities.
// It attempts to write the records up to the configured number of attempts,
// waiting the specified delay between retries, and gives up early when the
// context is cancelled.
//
// If attempts is < 1, it defaults to 1 (no retries).
// If delayMs is 0, it defaults to 1000ms.
type RetrySink struct {
	inner    Sink
	attempts int
	delay    time.Duration
	log      logrus.FieldLogger
}

// NewRetrySink builds a new Sink with retry behaviour around the provided
// inner sink.
func NewRetrySink(inner Sink, attempts int, delayMs int, log logrus.FieldLogger) Sink {
	if inner == nil {
		return nil
	}
	if attempts < 1 {
		attempts = 1
	}
	if delayMs == 0 {
		delayMs = 1000
	}
	return &RetrySink{
		inner:    inner,
		attempts: attempts,
		delay:    time.Duration(delayMs) * time.Millisecond,
		log:      log,
	}
}

// Write forwards the call to the wrapped sink retrying on failure.
func (r *RetrySink) Write(ctx context.Context, table string, records []Record) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = r.inner.Write(ctx, table, records)
		if err == nil {
			return nil
		}

		r.log.Warnf("sink write failed | table=%s attempt=%d/%d err=%v", table, attempt, r.attempts, err)

		// Wait before next retry unless it's the final attempt.
		if attempt < r.attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.delay):
			}
		}
	}
	return err
}
