package mysqlrepl

import "fmt"

// TableMap is the decoded form of a TABLE_MAP_EVENT: the relation
// descriptor that every subsequent ROWS event for this table id refers
// to, until the next TABLE_MAP for the same id supersedes it (spec
// §4.2 "Table map events").
type TableMap struct {
	TableID    uint64
	SchemaName string
	TableName  string
	ColumnTypes []ColumnType
	ColumnMeta  []uint16 // per-column metadata, meaning depends on ColumnTypes[i]
	Nullable    []bool   // per-column nullability, from the null-bitmap at the tail
}

// decodeTableMap parses a TABLE_MAP_EVENT body (post fixed-size event
// header, pre checksum). Layout: 6-byte table id, 2-byte flags,
// length-encoded schema name, length-encoded table name, length-encoded
// column count, one type byte per column, length-encoded metadata block
// whose per-column width depends on the column's type, and a trailing
// null-bitmap sized by the *same* column count (every declared column
// gets a nullability bit here — the present-columns-sized null-bitmap
// rule applies only to ROWS events, not TABLE_MAP).
func decodeTableMap(body []byte) (*TableMap, error) {
	c := newCursor(body)
	tableID := c.u48()
	c.skip(2) // flags, unused by this decoder

	schemaLen := int(c.lenencInt())
	schemaName := string(c.bytes(schemaLen))
	c.skip(1) // trailing NUL after schema name

	tableLen := int(c.lenencInt())
	tableName := string(c.bytes(tableLen))
	c.skip(1) // trailing NUL after table name

	numColumns := int(c.lenencInt())
	if c.err != nil {
		return nil, c.err
	}

	colTypes := make([]ColumnType, numColumns)
	for i := 0; i < numColumns; i++ {
		colTypes[i] = ColumnType(c.u8())
	}

	metaBlockLen := int(c.lenencInt())
	metaBlock := c.bytes(metaBlockLen)
	if c.err != nil {
		return nil, c.err
	}
	colMeta, err := decodeColumnMeta(colTypes, metaBlock)
	if err != nil {
		return nil, err
	}

	nullBitmap := c.bytes(bitmapBytes(numColumns))
	if c.err != nil {
		return nil, c.err
	}
	nullable := make([]bool, numColumns)
	for i := 0; i < numColumns; i++ {
		nullable[i] = bitSet(nullBitmap, i)
	}

	return &TableMap{
		TableID:     tableID,
		SchemaName:  schemaName,
		TableName:   tableName,
		ColumnTypes: colTypes,
		ColumnMeta:  colMeta,
		Nullable:    nullable,
	}, nil
}

// bitmapBytes is the number of bytes needed to hold n bits.
func bitmapBytes(n int) int { return (n + 7) / 8 }

// bitSet reports whether bit i is set in a little-endian bitmap (bit 0
// of byte 0 is column 0), the convention used by both the TABLE_MAP
// null-bitmap and the ROWS present-columns bitmap.
func bitSet(bitmap []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<uint(i%8)) != 0
}

// decodeColumnMeta walks metaBlock once, reading a per-column metadata
// field whose width is determined by that column's type code. This
// mirrors the type-dependent metadata widths of MySQL's own table map
// logic: most "2-byte metadata" types (VARCHAR, BIT, the NEW_DECIMAL
// precision/scale pair, ENUM/SET's underlying STRING encoding, and
// VAR_STRING) store two bytes; most "1-byte metadata" types (BLOB
// family, DOUBLE, FLOAT, TIME2/DATETIME2/TIMESTAMP2 fractional-second
// precision) store one; everything else carries no metadata at all.
func decodeColumnMeta(types []ColumnType, metaBlock []byte) ([]uint16, error) {
	c := newCursor(metaBlock)
	out := make([]uint16, len(types))
	for i, t := range types {
		switch t {
		case ColString, ColVarString, ColVarchar, ColBit, ColNewDecimal:
			out[i] = c.u16()
		case ColEnum, ColSet:
			// Only reachable if the table map ever encodes these as raw
			// ENUM/SET (MySQL normally rewrites them to ColString with a
			// real-type byte hidden in the high byte of metadata); handle
			// both representations defensively.
			out[i] = c.u16()
		case ColBlob, ColDouble, ColFloat, ColGeometry, ColJSON,
			ColTime2, ColDateTime2, ColTimestamp2:
			out[i] = uint16(c.u8())
		default:
			// No metadata: TINY, SHORT, LONG, LONGLONG, INT24, DECIMAL
			// (old), NULL, DATE, TIME, DATETIME, TIMESTAMP, YEAR, NEWDATE.
		}
	}
	if c.err != nil {
		return nil, fmt.Errorf("mysqlrepl: column metadata: %w", c.err)
	}
	return out, nil
}
