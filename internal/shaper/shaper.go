// Package shaper builds the canonical event.Record from a decoded logical
// row event plus the active column projection (spec §4.5).
package shaper

import (
	"github.com/sunethnk/binlog-stream/internal/capture"
	"github.com/sunethnk/binlog-stream/internal/event"
)

// InsertOrDelete builds an INSERT or DELETE record from one or more
// projected rows, each a full column->value map already restricted to
// the projection.
func InsertOrDelete(kind event.Kind, txn, schemaName, table string, proj capture.Projection, rows []map[string]any, position string) event.Record {
	out := make([]event.Row, len(rows))
	for i, r := range rows {
		out[i] = event.Row{Columns: r}
	}
	return event.Record{
		Kind:       kind,
		Txn:        txn,
		Schema:     schemaName,
		Table:      table,
		PrimaryKey: proj.PrimaryKey,
		Rows:       out,
		Position:   position,
	}
}

// Update builds an UPDATE record from paired before/after projected
// column maps.
func Update(txn, schemaName, table string, proj capture.Projection, befores, afters []map[string]any, position string) event.Record {
	n := len(afters)
	out := make([]event.Row, n)
	for i := 0; i < n; i++ {
		var before map[string]any
		if i < len(befores) {
			before = befores[i]
		}
		out[i] = event.Row{Before: before, After: afters[i]}
	}
	return event.Record{
		Kind:       event.KindUpdate,
		Txn:        txn,
		Schema:     schemaName,
		Table:      table,
		PrimaryKey: proj.PrimaryKey,
		Rows:       out,
		Position:   position,
	}
}

// DDL builds a DDL event record; it carries a single row whose only
// column, "statement", holds the DDL text, and no primary key.
func DDL(txn, schemaName, statement, position string) event.Record {
	return event.Record{
		Kind:     event.KindDDL,
		Txn:      txn,
		Schema:   schemaName,
		Rows:     []event.Row{{Columns: map[string]any{"statement": statement}}},
		Position: position,
	}
}

// Commit builds a COMMIT marker record.
func Commit(txn, schemaName, position string) event.Record {
	return event.Record{
		Kind:     event.KindCommit,
		Txn:      txn,
		Schema:   schemaName,
		Rows:     []event.Row{},
		Position: position,
	}
}

// Project restricts a full wire-order row (one value per column, nil for
// SQL NULL) to the column projection, keyed by emitted column name, and
// skips the rest entirely (spec §3: "never decoded").
func Project(proj capture.Projection, wireRow []any) map[string]any {
	out := make(map[string]any, len(proj.Indices))
	for i, idx := range proj.Indices {
		if idx < len(wireRow) {
			out[proj.Names[i]] = wireRow[idx]
		}
	}
	return out
}
