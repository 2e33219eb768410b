package sink

import "context"

// Record is one row ready to be persisted. Keys are column names.
type Record map[string]interface{}

// Sink defines the behaviour expected from any storage back-end used by the
// loader.
//
// Write must be atomic per call: either every record is stored or none is,
// so the loader can leave a document staged when Write fails.
type Sink interface {
	Write(ctx context.Context, table string, records []Record) error
}
