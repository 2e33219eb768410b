package sink

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"ops-data-loaders/internal/database"
)

// SQLSink persists records into tables of one schema. Tables are created on
// first use with a TEXT column per record key (sorted alphabetically for
// determinism); keys that appear later are added as new columns.
//
// Every Write runs in a single transaction.
type SQLSink struct {
	conn *database.Conn
}

// NewSQLSink returns a sink writing through conn. The sink borrows the
// connection and never closes it.
func NewSQLSink(conn *database.Conn) *SQLSink {
	return &SQLSink{conn: conn}
}

// Write inserts records into table.
func (s *SQLSink) Write(ctx context.Context, table string, records []Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	if table == "" {
		return fmt.Errorf("table name is required")
	}

	d := s.conn.Dialect
	headers := extractHeaders(records)

	tx, err := s.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = ensureTable(ctx, tx, d, table, headers); err != nil {
		return err
	}

	cols := make([]string, len(headers))
	marks := make([]string, len(headers))
	for i, h := range headers {
		cols[i] = d.Quote(h)
		marks[i] = d.Placeholder(i + 1)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.Quote(table), strings.Join(cols, ", "), strings.Join(marks, ", "))

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("failed to prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	// Prepare row following header order.
	args := make([]interface{}, len(headers))
	for n, rec := range records {
		for i, key := range headers {
			args[i] = rec[key]
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert record %d into %s: %w", n, table, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", table, err)
	}
	return nil
}

// ensureTable creates table when missing and adds the columns it lacks.
func ensureTable(ctx context.Context, tx *sql.Tx, d database.Dialect, table string, headers []string) error {
	defs := make([]string, len(headers))
	for i, h := range headers {
		defs[i] = d.Quote(h) + " TEXT"
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Quote(table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	existing, err := tableColumns(ctx, tx, d, table)
	if err != nil {
		return err
	}
	for _, h := range headers {
		if _, ok := existing[strings.ToLower(h)]; ok {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", d.Quote(table), d.Quote(h))
		if _, err := tx.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("failed to add column %s to %s: %w", h, table, err)
		}
	}
	return nil
}

func tableColumns(ctx context.Context, tx *sql.Tx, d database.Dialect, table string) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", d.Quote(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	out := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		out[strings.ToLower(c)] = struct{}{}
	}
	return out, nil
}

// extractHeaders returns a deterministic, alphabetically-sorted slice of the
// keys present in any of the records.
func extractHeaders(records []Record) []string {
	set := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			set[k] = struct{}{}
		}
	}
	headers := make([]string, 0, len(set))
	for k := range set {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	return headers
}
