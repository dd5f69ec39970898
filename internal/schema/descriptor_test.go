package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutReportsChangedOnFirstInsert(t *testing.T) {
	c := New()
	changed := c.Put(&Descriptor{RelationID: 1, SchemaName: "shop", TableName: "orders",
		Columns: []Column{{Name: "id", WireType: 3}}})
	assert.True(t, changed)

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "orders", got.TableName)
}

func TestCachePutDetectsColumnSetChangeAndDropsEnums(t *testing.T) {
	c := New()
	c.Put(&Descriptor{RelationID: 1, SchemaName: "shop", TableName: "orders",
		Columns: []Column{{Name: "id", WireType: 3}, {Name: "status", WireType: 253}}})
	c.PutEnums("shop", "orders", "status", []string{"new", "paid"})

	_, ok := c.Enums("shop", "orders", "status")
	require.True(t, ok)

	// Same relation id, same column count and wire types: unchanged.
	changed := c.Put(&Descriptor{RelationID: 1, SchemaName: "shop", TableName: "orders",
		Columns: []Column{{Name: "id", WireType: 3}, {Name: "status", WireType: 253}}})
	assert.False(t, changed)
	_, ok = c.Enums("shop", "orders", "status")
	assert.True(t, ok, "enum cache must survive a Put that doesn't change the column set")

	// A DDL adding a column changes the fingerprint: the enum cache for
	// this table must be dropped (spec §4.4 invalidation rule).
	changed = c.Put(&Descriptor{RelationID: 1, SchemaName: "shop", TableName: "orders",
		Columns: []Column{{Name: "id", WireType: 3}, {Name: "status", WireType: 253}, {Name: "note", WireType: 15}}})
	assert.True(t, changed)
	_, ok = c.Enums("shop", "orders", "status")
	assert.False(t, ok, "a changed column set must invalidate the enum cache")
}

func TestParseEnumLabels(t *testing.T) {
	labels := parseEnumLabels("enum('new','paid','shipped')")
	assert.Equal(t, []string{"new", "paid", "shipped"}, labels)

	labels = parseEnumLabels("set('a','b''s','c')")
	assert.Equal(t, []string{"a", "b's", "c"}, labels)

	assert.Nil(t, parseEnumLabels("bigint"))
}
