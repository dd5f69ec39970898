// Package schema holds the per-source relation cache (table id -> column
// names/types) and the enum value cache described in spec §3 and §4.4.
package schema

import "sync"

// Column describes one column of a relation as announced by the source
// (TABLE_MAP for MySQL, Relation message for Postgres).
type Column struct {
	Name     string
	WireType uint16 // source-specific numeric type code
	TypeMeta uint16 // MySQL metadata word; unused (0) for Postgres
	Flags    uint16 // source-specific flag bits (nullability, unsigned, key)
}

// Descriptor is the per-table relation descriptor of spec §3.
type Descriptor struct {
	RelationID         uint64
	SchemaName         string
	TableName          string
	Columns            []Column
	PrimaryKeyColumns   []string
	// columnFingerprint lets Put detect "same id, different
	// columns" without a deep compare on every lookup.
	columnFingerprint string
}

// Cache holds one source connection's relation_id -> Descriptor map, plus
// the enum label cache keyed by (schema, table, column).
type Cache struct {
	mu          sync.RWMutex
	descriptors map[uint64]*Descriptor
	enums       map[enumKey][]string
}

type enumKey struct {
	schema, table, column string
}

// New returns an empty cache for one source connection.
func New() *Cache {
	return &Cache{
		descriptors: make(map[uint64]*Descriptor),
		enums:       make(map[enumKey][]string),
	}
}

// Get returns the cached descriptor for relationID, if any.
func (c *Cache) Get(relationID uint64) (*Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.descriptors[relationID]
	return d, ok
}

// Put installs or refreshes the descriptor for relationID. It reports
// whether the column set changed relative to any previous descriptor for
// this id, in which case the caller must also drop the enum cache for
// this table (spec §4.4 invalidation rule) — Put does that itself.
func (c *Cache) Put(d *Descriptor) (changed bool) {
	d.columnFingerprint = fingerprint(d.Columns)

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.descriptors[d.RelationID]
	changed = !ok || prev.columnFingerprint != d.columnFingerprint
	c.descriptors[d.RelationID] = d
	if changed {
		c.dropEnumsLocked(d.SchemaName, d.TableName)
	}
	return changed
}

// Enums returns the cached enum labels for (schema, table, column), if any.
func (c *Cache) Enums(schema, table, column string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.enums[enumKey{schema, table, column}]
	return v, ok
}

// PutEnums caches the ordered label list for (schema, table, column).
func (c *Cache) PutEnums(schema, table, column string, labels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enums[enumKey{schema, table, column}] = labels
}

func (c *Cache) dropEnumsLocked(schema, table string) {
	for k := range c.enums {
		if k.schema == schema && k.table == table {
			delete(c.enums, k)
		}
	}
}

// fingerprint summarizes a column set (count + wire types) cheaply enough
// to compare on every TABLE_MAP/Relation message without allocating a
// full deep-equal over names.
func fingerprint(cols []Column) string {
	b := make([]byte, 0, len(cols)*3+2)
	n := len(cols)
	b = append(b, byte(n>>8), byte(n))
	for _, c := range cols {
		b = append(b, byte(c.WireType>>8), byte(c.WireType))
	}
	return string(b)
}
