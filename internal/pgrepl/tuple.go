package pgrepl

import "fmt"

// decodeTupleData reads one TupleData block: a 2-byte column count
// followed by, per column, a kind byte and (for 't') a 4-byte length
// and that many bytes of text-format data (spec §4.3 "TupleData
// decode"). pgoutput always sends values in PostgreSQL's text output
// format, never binary, regardless of the column's real type.
func decodeTupleData(c *cursor) ([]TupleColumn, error) {
	n := int(c.u16())
	if c.err != nil {
		return nil, c.err
	}
	out := make([]TupleColumn, n)
	for i := 0; i < n; i++ {
		kind := c.u8()
		switch kind {
		case 'n', 'u':
			out[i] = TupleColumn{Kind: kind}
		case 't':
			length := int(c.u32())
			b := c.bytes(length)
			out[i] = TupleColumn{Kind: kind, Text: string(b)}
		default:
			return nil, fmt.Errorf("pgrepl: unknown tuple column kind %q", kind)
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return out, nil
}

// tupleToWireRow renders a decoded tuple into a position-ordered value
// slice matching the Relation's column order, the same shape the
// shaper's Project function expects from the MySQL decoder. SQL NULL
// and unchanged-TOAST columns both surface as nil (spec §4.3: "an
// unchanged TOAST column on UPDATE is indistinguishable from NULL at
// the event level unless REPLICA IDENTITY FULL is set").
func tupleToWireRow(rel *Relation, tuple []TupleColumn) []any {
	out := make([]any, len(rel.Columns))
	for i := range rel.Columns {
		if i >= len(tuple) {
			continue
		}
		if tuple[i].Kind == 't' {
			out[i] = tuple[i].Text
		}
	}
	return out
}
