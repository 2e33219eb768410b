package database

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver registered as "pgx"
	_ "github.com/lib/pq"              // PostgreSQL driver registered as "postgres"
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// ErrUnsupportedDriver is returned for drivers without a dialect.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Dialect captures the SQL differences the loader and bootstrap care about.
type Dialect struct {
	Driver string

	quote        string
	numbered     bool
	createSchema string
}

var dialects = map[string]Dialect{
	"mysql":    {Driver: "mysql", quote: "`", createSchema: "CREATE DATABASE IF NOT EXISTS %s"},
	"postgres": {Driver: "postgres", quote: `"`, numbered: true, createSchema: "CREATE SCHEMA IF NOT EXISTS %s"},
	"pgx":      {Driver: "pgx", quote: `"`, numbered: true, createSchema: "CREATE SCHEMA IF NOT EXISTS %s"},
	"sqlite3":  {Driver: "sqlite3", quote: `"`},
}

// DialectFor returns the dialect registered for driver.
func DialectFor(driver string) (Dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return Dialect{}, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
	return d, nil
}

// Quote returns name as a quoted identifier.
func (d Dialect) Quote(name string) string {
	return d.quote + strings.ReplaceAll(name, d.quote, d.quote+d.quote) + d.quote
}

// Placeholder returns the bind parameter for the n-th argument (1-based).
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// CreateSchemaSQL returns the statement creating schema, or "" when the
// driver has no notion of schemas (each SQLite schema is its own file).
func (d Dialect) CreateSchemaSQL(schema string) string {
	if d.createSchema == "" {
		return ""
	}
	return fmt.Sprintf(d.createSchema, d.Quote(schema))
}
