// Package database owns the schema connections of a run.
//
// Ownership rule: the pipeline runner opens Connections and is the only code
// that closes them. Loader, transform runner and webhook dispatcher borrow a
// *Conn for the duration of a call and never close it.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ops-data-loaders/internal/config"

	"github.com/sirupsen/logrus"
)

// SchemaPlaceholder is replaced with the schema name in DSN templates.
const SchemaPlaceholder = "{schema}"

// ErrUnknownSchema is returned when no connection exists for a schema.
var ErrUnknownSchema = errors.New("unknown schema")

// Conn is a live handle to one schema.
type Conn struct {
	Schema  string
	DB      *sql.DB
	Dialect Dialect
}

// Connections maps schema names to their connection.
type Connections struct {
	conns map[string]*Conn
	log   logrus.FieldLogger
}

// NewConnections returns an empty mapping.
func NewConnections(log logrus.FieldLogger) *Connections {
	return &Connections{conns: make(map[string]*Conn), log: log}
}

// Add registers an already opened database for schema. The mapping takes
// ownership of db.
func (c *Connections) Add(schema string, db *sql.DB, dialect Dialect) *Conn {
	conn := &Conn{Schema: schema, DB: db, Dialect: dialect}
	c.conns[schema] = conn
	return conn
}

// Get returns the connection for schema.
func (c *Connections) Get(schema string) (*Conn, error) {
	conn, ok := c.conns[schema]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
	}
	return conn, nil
}

// Schemas returns the registered schema names, sorted.
func (c *Connections) Schemas() []string {
	out := make([]string, 0, len(c.conns))
	for s := range c.conns {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Close closes every connection, even when some fail.
func (c *Connections) Close() error {
	var errs []error
	for _, schema := range c.Schemas() {
		if err := c.conns[schema].DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", schema, err))
			continue
		}
		c.log.WithField("schema", schema).Info("connection closed")
	}
	c.conns = make(map[string]*Conn)
	return errors.Join(errs...)
}

// Open bootstraps the configured schemas (when a bootstrap DSN is set) and
// opens one connection per schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, retry config.RetryConfig, log logrus.FieldLogger) (*Connections, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if cfg.BootstrapDSN != "" {
		if err := Bootstrap(ctx, dialect, cfg.BootstrapDSN, cfg.Schemas, retry, log); err != nil {
			return nil, err
		}
	}

	conns := NewConnections(log)
	for _, schema := range cfg.Schemas {
		dsn := strings.ReplaceAll(cfg.DSN, SchemaPlaceholder, schema)
		db, err := Connect(ctx, dialect, dsn, retry, log)
		if err != nil {
			conns.Close()
			return nil, fmt.Errorf("failed to connect to schema %s: %w", schema, err)
		}
		conns.Add(schema, db, dialect)
		log.WithField("schema", schema).Info("connection made")
	}
	return conns, nil
}

// Bootstrap creates every schema that does not exist yet.
func Bootstrap(ctx context.Context, dialect Dialect, dsn string, schemas []string, retry config.RetryConfig, log logrus.FieldLogger) error {
	if dialect.CreateSchemaSQL("x") == "" {
		return nil
	}

	db, err := Connect(ctx, dialect, dsn, retry, log)
	if err != nil {
		return fmt.Errorf("failed to connect for schema bootstrap: %w", err)
	}
	defer db.Close()

	for _, schema := range schemas {
		if _, err := db.ExecContext(ctx, dialect.CreateSchemaSQL(schema)); err != nil {
			return fmt.Errorf("failed to create schema %s: %w", schema, err)
		}
	}
	return nil
}

// Connect opens a database and pings it with retry. The retry configuration
// controls the number of attempts and the delay (in milliseconds) between them.
func Connect(ctx context.Context, dialect Dialect, dsn string, retry config.RetryConfig, log logrus.FieldLogger) (*sql.DB, error) {
	if retry.Attempts == 0 {
		retry.Attempts = 3
	}
	if retry.DelayMS == 0 {
		retry.DelayMS = 1500
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect.Driver == "sqlite3" {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
	}

	for attempt := 1; attempt <= retry.Attempts; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			return db, nil
		}

		log.Warnf("database ping failed (attempt %d/%d): %v", attempt, retry.Attempts, err)

		// Don't wait after the final attempt
		if attempt < retry.Attempts {
			select {
			case <-ctx.Done():
				db.Close()
				return nil, ctx.Err()
			case <-time.After(time.Duration(retry.DelayMS) * time.Millisecond):
			}
		}
	}

	db.Close()
	return nil, err
}
