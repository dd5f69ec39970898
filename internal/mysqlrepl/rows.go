package mysqlrepl

import "fmt"

// RowsEvent is the decoded form of a WRITE/UPDATE/DELETE_ROWS event,
// resolved against the TableMap it refers to (spec §4.2 "Row events").
type RowsEvent struct {
	TableID uint64
	Kind    EventType // one of the Is{Write,Update,Delete}Rows() families
	Rows    []RowImage
}

// RowImage holds one row's before/after column values, by ordinal
// position within the table map's column list (not yet projected to
// the capture policy's allow-list — that happens in the shaper).
// Before is nil for an insert, After is nil for a delete.
type RowImage struct {
	Before []any
	After  []any
}

// decodeRowsEvent parses a WRITE/UPDATE/DELETE_ROWS_EVENT body against
// tm, the TableMap previously seen for this table id. v2 events carry
// an extra-info block whose length field includes its own two bytes
// (spec §4.2 "length includes its own 2 bytes" bug note) and a second
// present-columns bitmap for the after-image on UPDATE. wanted marks,
// by wire-order column index, which columns the capture policy actually
// needs; a nil wanted decodes every column (used by tests that don't
// exercise projection).
func decodeRowsEvent(kind EventType, body []byte, tm *TableMap, wanted []bool) (*RowsEvent, error) {
	c := newCursor(body)
	tableID := c.u48()
	c.skip(2) // flags

	if kind.IsV2() {
		extraLen := int(c.u16())
		if extraLen < 2 {
			return nil, fmt.Errorf("mysqlrepl: rows event extra-info length %d < 2", extraLen)
		}
		c.skip(extraLen - 2)
	}

	numColumns := int(c.lenencInt())
	if c.err != nil {
		return nil, c.err
	}
	if numColumns != len(tm.ColumnTypes) {
		return nil, fmt.Errorf("mysqlrepl: rows event column count %d does not match table map %d",
			numColumns, len(tm.ColumnTypes))
	}

	presentBefore := c.bytes(bitmapBytes(numColumns))
	var presentAfter []byte
	if kind.IsUpdateRows() {
		presentAfter = c.bytes(bitmapBytes(numColumns))
	}
	if c.err != nil {
		return nil, c.err
	}

	var rows []RowImage
	for c.more() {
		var img RowImage
		switch {
		case kind.IsWriteRows():
			vals, err := decodeRowValues(c, tm, presentBefore, wanted)
			if err != nil {
				return nil, err
			}
			img.After = vals
		case kind.IsDeleteRows():
			vals, err := decodeRowValues(c, tm, presentBefore, wanted)
			if err != nil {
				return nil, err
			}
			img.Before = vals
		case kind.IsUpdateRows():
			before, err := decodeRowValues(c, tm, presentBefore, wanted)
			if err != nil {
				return nil, err
			}
			after, err := decodeRowValues(c, tm, presentAfter, wanted)
			if err != nil {
				return nil, err
			}
			img.Before, img.After = before, after
		}
		rows = append(rows, img)
	}
	if c.err != nil {
		return nil, c.err
	}

	return &RowsEvent{TableID: tableID, Kind: kind, Rows: rows}, nil
}

// decodeRowValues reads one row image: a null-bitmap sized by the
// *number of present columns* (popcount(present)), not the table's
// total column count — the fix spec §4.2 calls out explicitly, since
// an easy mistake is to size it by numColumns instead. Columns absent
// from present are left as nil without consuming any bitmap bit or
// value bytes. Columns present but not in wanted have their bytes
// skipped (cursor advanced, never interpreted) and are left nil too —
// spec §3/§4.5's "never emitted and its bytes are skipped, never
// decoded" invariant for columns outside the capture allow-list.
func decodeRowValues(c *cursor, tm *TableMap, present []byte, wanted []bool) ([]any, error) {
	numColumns := len(tm.ColumnTypes)
	presentCount := 0
	for i := 0; i < numColumns; i++ {
		if bitSet(present, i) {
			presentCount++
		}
	}

	nullBitmap := c.bytes(bitmapBytes(presentCount))
	if c.err != nil {
		return nil, c.err
	}

	values := make([]any, numColumns)
	presentIdx := 0
	for i := 0; i < numColumns; i++ {
		if !bitSet(present, i) {
			continue
		}
		isNull := bitSet(nullBitmap, presentIdx)
		presentIdx++
		if isNull {
			values[i] = nil
			continue
		}
		if wanted != nil && !wanted[i] {
			if err := skipValue(c, tm.ColumnTypes[i], tm.ColumnMeta[i]); err != nil {
				return nil, fmt.Errorf("mysqlrepl: column %d: %w", i, err)
			}
			continue
		}
		v, err := decodeValue(c, tm.ColumnTypes[i], tm.ColumnMeta[i])
		if err != nil {
			return nil, fmt.Errorf("mysqlrepl: column %d: %w", i, err)
		}
		values[i] = v
	}
	if c.err != nil {
		return nil, c.err
	}
	return values, nil
}
