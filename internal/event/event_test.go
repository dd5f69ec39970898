package event

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMarshalJSONKeyOrder(t *testing.T) {
	r := Record{
		Kind:       KindInsert,
		Txn:        "txn-1",
		Schema:     "shop",
		Table:      "orders",
		PrimaryKey: []string{"id"},
		Rows:       []Row{{Columns: map[string]any{"id": float64(1)}}},
	}
	b, err := r.MarshalJSON()
	require.NoError(t, err)

	s := string(b)
	assert.False(t, strings.HasSuffix(s, "\n"), "marshaled record must not carry a trailing newline")

	order := []string{`"type"`, `"txn"`, `"schema"`, `"table"`, `"primary_key"`, `"rows"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(s, key)
		require.GreaterOrEqual(t, idx, 0, "missing key %s", key)
		assert.Greater(t, idx, last, "key %s out of order", key)
		last = idx
	}
}

func TestRecordMarshalJSONEmptyRowsAndKeyNormalizeToArrays(t *testing.T) {
	r := Record{Kind: KindCommit, Txn: "txn-2", Schema: "shop"}
	b, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"primary_key":[]`)
	assert.Contains(t, string(b), `"rows":[]`)
}

func TestRowMarshalJSONBeforeAfter(t *testing.T) {
	r := Row{Before: map[string]any{"a": float64(1)}, After: map[string]any{"a": float64(2)}}
	b, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"before"`)
	assert.Contains(t, string(b), `"after"`)
}

func TestTxnTrackerImplicitBegin(t *testing.T) {
	var tr TxnTracker
	assert.False(t, tr.IsOpen())
	id := tr.Current()
	assert.NotEmpty(t, id)
	assert.True(t, tr.IsOpen())
	assert.Equal(t, id, tr.Current(), "Current must be stable within one open transaction")

	tr.End()
	assert.False(t, tr.IsOpen())
	assert.NotEqual(t, id, tr.Current(), "a new implicit transaction must mint a fresh id")
}
