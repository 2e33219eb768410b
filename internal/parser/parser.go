package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"ops-data-loaders/internal/sink"
)

// ValueColumn holds scalar array items, which have no keys of their own.
const ValueColumn = "value"

// Parse converts a staged document into sink records. A document is a JSON
// array of items (or a single object). Top-level keys become columns; nested
// objects and arrays are kept as JSON text so no information is lost.
func Parse(data []byte) ([]sink.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to decode document: trailing data")
	}

	var items []interface{}
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		items = v
	case map[string]interface{}:
		items = []interface{}{v}
	default:
		return nil, fmt.Errorf("unsupported document root %T", doc)
	}

	records := make([]sink.Record, 0, len(items))
	for i, item := range items {
		rec, err := toRecord(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func toRecord(item interface{}) (sink.Record, error) {
	obj, ok := item.(map[string]interface{})
	if !ok {
		v, err := columnValue(item)
		if err != nil {
			return nil, err
		}
		return sink.Record{ValueColumn: v}, nil
	}

	rec := make(sink.Record, len(obj))
	for k, raw := range obj {
		v, err := columnValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		rec[k] = v
	}
	return rec, nil
}

// columnValue maps a decoded JSON value onto something every SQL driver
// accepts: nil, bool or string.
func columnValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}
