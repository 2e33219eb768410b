package parser

import (
	"testing"

	"ops-data-loaders/internal/sink"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArrayOfObjects(t *testing.T) {
	recs, err := Parse([]byte(`[
		{"id": 12345678901234567890, "subject": "hi", "spam": false, "cc": ["a@x.io"], "custom": {"tier": 2}, "due": null},
		{"id": 2}
	]`))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, sink.Record{
		"id":      "12345678901234567890",
		"subject": "hi",
		"spam":    false,
		"cc":      `["a@x.io"]`,
		"custom":  `{"tier":2}`,
		"due":     nil,
	}, recs[0])
	assert.Equal(t, sink.Record{"id": "2"}, recs[1])
}

func TestParseObjectAndScalars(t *testing.T) {
	recs, err := Parse([]byte(`{"id": 1}`))
	require.NoError(t, err)
	assert.Equal(t, []sink.Record{{"id": "1"}}, recs)

	recs, err = Parse([]byte(`["open", 3]`))
	require.NoError(t, err)
	assert.Equal(t, []sink.Record{{ValueColumn: "open"}, {ValueColumn: "3"}}, recs)

	recs, err = Parse([]byte(`null`))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, doc := range []string{`[{"id": 1},`, `"just a string"`, `[1] [2]`, ``} {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, doc)
	}
}
