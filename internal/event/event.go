// Package event defines the canonical row-change record that flows from the
// decoders through the dispatcher to sink workers.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the canonical event type tag, the first JSON key emitted.
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	KindDDL    Kind = "DDL"
	KindCommit Kind = "COMMIT"
)

// Row is one row's column->value map for INSERT/DELETE, or {before,after}
// for UPDATE. Values are JSON-marshalable: numbers, strings, bools, nil,
// and, for embedded JSON columns, the decoded maps/slices/scalars.
type Row struct {
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
	// Columns holds the flat column->value map for INSERT/DELETE rows. Never
	// set at the same time as Before/After.
	Columns map[string]any `json:"-"`
}

// IsBeforeAfter reports whether this row carries a before/after image
// (an UPDATE) rather than a flat column map (INSERT/DELETE).
func (r Row) IsBeforeAfter() bool {
	return r.Before != nil || r.After != nil
}

// MarshalJSON renders either the flat column map or the {before,after} pair,
// matching the event JSON in spec §6.5.
func (r Row) MarshalJSON() ([]byte, error) {
	if r.IsBeforeAfter() {
		return json.Marshal(struct {
			Before map[string]any `json:"before"`
			After  map[string]any `json:"after"`
		}{r.Before, r.After})
	}
	return json.Marshal(r.Columns)
}

// Record is the canonical event record of spec §3/§6.5. Field order in
// MarshalJSON is fixed: type, txn, schema, table, primary_key, rows.
type Record struct {
	Kind         Kind
	Txn          string
	Schema       string
	Table        string
	PrimaryKey   []string
	Rows         []Row
	Position     string // source_file_or_lsn, printed form
	SourceFile   string // MySQL binlog file name; empty for Postgres
}

// MarshalJSON produces a single well-formed UTF-8 JSON object with keys in
// the order type, txn, schema, table, primary_key, rows. encoding/json
// orders struct fields by declaration, so the wrapper struct below is the
// mechanism for that ordering.
func (r Record) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type       Kind   `json:"type"`
		Txn        string `json:"txn"`
		Schema     string `json:"schema"`
		Table      string `json:"table"`
		PrimaryKey []string `json:"primary_key"`
		Rows       []Row  `json:"rows"`
	}
	w := wire{
		Type:       r.Kind,
		Txn:        r.Txn,
		Schema:     r.Schema,
		Table:      r.Table,
		PrimaryKey: r.PrimaryKey,
		Rows:       r.Rows,
	}
	if w.PrimaryKey == nil {
		w.PrimaryKey = []string{}
	}
	if w.Rows == nil {
		w.Rows = []Row{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("event: marshal record: %w", err)
	}
	// json.Encoder.Encode appends a trailing newline; the canonical value
	// must not carry one (spec §3 invariant).
	out := buf.Bytes()
	return bytes.TrimSuffix(out, []byte("\n")), nil
}
