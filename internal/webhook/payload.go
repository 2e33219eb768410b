package webhook

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"
)

// Field describes one column of a table payload.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Schema struct {
	Fields []Field `json:"fields"`
}

// Table is the JSON body posted to a webhook: a column schema plus one
// object per row. Null-equivalent values are encoded as JSON null.
type Table struct {
	Schema Schema                   `json:"schema"`
	Data   []map[string]interface{} `json:"data"`
}

// Rows is a query result held in memory.
type Rows struct {
	Fields []Field
	Data   []map[string]interface{}
}

// readRows drains rows into memory and normalizes every value.
func readRows(rows *sql.Rows) (*Rows, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}

	names := make([]string, len(types))
	for i, ct := range types {
		names[i] = ct.Name()
	}
	names = uniqueNames(names)

	out := &Rows{Fields: make([]Field, len(types))}
	for i, ct := range types {
		out.Fields[i] = Field{Name: names[i], Type: fieldType(ct.DatabaseTypeName())}
	}

	for rows.Next() {
		values := make([]interface{}, len(types))
		ptrs := make([]interface{}, len(types))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]interface{}, len(types))
		for i, f := range out.Fields {
			row[f.Name] = normalize(values[i])
		}
		out.Data = append(out.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// uniqueNames suffixes repeated column names (id, id_1, id_2) so joined
// columns sharing a name keep their own value in each row.
func uniqueNames(names []string) []string {
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[n] = true
	}

	out := make([]string, len(names))
	seen := make(map[string]bool, len(names))
	for i, n := range names {
		if !seen[n] {
			seen[n] = true
			out[i] = n
			continue
		}
		candidate := n
		for k := 1; taken[candidate]; k++ {
			candidate = fmt.Sprintf("%s_%d", n, k)
		}
		taken[candidate] = true
		seen[candidate] = true
		out[i] = candidate
	}
	return out
}

func fieldType(dbType string) string {
	t := strings.ToUpper(dbType)
	switch {
	case strings.Contains(t, "INT"):
		return "integer"
	case strings.Contains(t, "BOOL"):
		return "boolean"
	case strings.Contains(t, "DATE"), strings.Contains(t, "TIME"):
		return "datetime"
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"),
		strings.Contains(t, "DEC"), strings.Contains(t, "NUMERIC"):
		return "number"
	default:
		return "string"
	}
}

func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil
		}
		return x
	case time.Time:
		if x.IsZero() {
			return nil
		}
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return x
	}
}

// split partitions rows into n near-equal consecutive chunks. The first
// len(rows)%n chunks hold one extra row; trailing chunks may be empty when
// there are fewer rows than chunks.
func split(rows []map[string]interface{}, n int) [][]map[string]interface{} {
	if n < 1 {
		n = 1
	}
	size, extra := len(rows)/n, len(rows)%n

	parts := make([][]map[string]interface{}, n)
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		parts[i] = rows[start:end]
		start = end
	}
	return parts
}
