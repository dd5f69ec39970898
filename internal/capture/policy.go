// Package capture implements the allow-list policy that decides, per
// spec §4.5, "should this be emitted?" and "which columns?".
package capture

import "github.com/sunethnk/binlog-stream/internal/schema"

// Table is the per-table policy entry of spec §3's "Capture policy".
type Table struct {
	Name              string
	CaptureAllColumns bool
	AllowedColumns    []string // ordered, ignored if CaptureAllColumns
	PrimaryKey        []string // overrides the source-reported primary key
}

// Schema is the per-schema policy entry: DML/DDL toggles plus its tables.
type Schema struct {
	Name       string
	CaptureDML bool
	CaptureDDL bool
	Tables     map[string]Table
}

// Policy is the full capture configuration, keyed by schema name.
type Policy struct {
	schemas map[string]Schema
}

// New builds a Policy from the parsed schema list.
func New(schemas []Schema) *Policy {
	m := make(map[string]Schema, len(schemas))
	for _, s := range schemas {
		m[s.Name] = s
	}
	return &Policy{schemas: m}
}

// Schema returns the policy entry for schemaName, if the schema is listed
// in the policy, whether or not any table in it is listed (spec §3: "a
// table not present in the policy produces no events").
func (p *Policy) Schema(schemaName string) (Schema, bool) {
	s, ok := p.schemas[schemaName]
	return s, ok
}

// Table returns the table policy for (schema, table), if captured.
func (p *Policy) Table(schemaName, table string) (Table, bool) {
	s, ok := p.schemas[schemaName]
	if !ok {
		return Table{}, false
	}
	t, ok := s.Tables[table]
	return t, ok
}

// Projection is the derived column allow-list for one relation
// descriptor refresh: indices into the wire-order column array that are
// to be emitted, plus the declared primary key columns to use.
type Projection struct {
	// Indices lists, in wire order, the positions of columns that must be
	// materialized and emitted. Columns outside this set are to be
	// byte-skipped without decoding (spec §3/§4.5).
	Indices []int
	// Names holds the emitted column name for each entry in Indices, same
	// order and length.
	Names      []string
	PrimaryKey []string
}

// Project resolves the table policy against the current relation
// descriptor, producing the projection used until the descriptor is next
// refreshed (spec §4.5: "resolves ... once per descriptor refresh").
func Project(t Table, desc *schema.Descriptor) Projection {
	pk := t.PrimaryKey
	if len(pk) == 0 {
		pk = desc.PrimaryKeyColumns
	}

	if t.CaptureAllColumns {
		idx := make([]int, len(desc.Columns))
		names := make([]string, len(desc.Columns))
		for i, c := range desc.Columns {
			idx[i] = i
			names[i] = c.Name
		}
		return Projection{Indices: idx, Names: names, PrimaryKey: pk}
	}

	nameToIdx := make(map[string]int, len(desc.Columns))
	for i, c := range desc.Columns {
		nameToIdx[c.Name] = i
	}

	proj := Projection{PrimaryKey: pk}
	for _, want := range t.AllowedColumns {
		if i, ok := nameToIdx[want]; ok {
			proj.Indices = append(proj.Indices, i)
			proj.Names = append(proj.Names, want)
		}
	}
	return proj
}

// ShouldEmitDDL reports whether a DDL statement for schemaName should be
// emitted, per the schema's capture_ddl toggle.
func (p *Policy) ShouldEmitDDL(schemaName string) bool {
	s, ok := p.schemas[schemaName]
	return ok && s.CaptureDDL
}

// ShouldEmitDML reports whether DML for schemaName should be emitted at
// all, per the schema's capture_dml toggle.
func (p *Policy) ShouldEmitDML(schemaName string) bool {
	s, ok := p.schemas[schemaName]
	return ok && s.CaptureDML
}
