package pgrepl

// decodeRelation parses an 'R' Relation message body (kind byte already
// consumed by the caller).
func decodeRelation(body []byte) (*Relation, error) {
	c := newCursor(body)
	rel := &Relation{
		RelationID:      c.u32(),
		Namespace:       c.cstring(),
		RelationName:    c.cstring(),
		ReplicaIdentity: c.u8(),
	}
	numColumns := int(c.u16())
	rel.Columns = make([]RelationColumn, numColumns)
	for i := 0; i < numColumns; i++ {
		flags := c.u8()
		rel.Columns[i] = RelationColumn{
			IsKey:   flags&0x01 != 0,
			Name:    c.cstring(),
			TypeOID: c.u32(),
			TypeMod: c.i32(),
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return rel, nil
}

// decodeTruncate parses a 'T' Truncate message body into the affected
// relation ids.
func decodeTruncate(body []byte) ([]uint32, error) {
	c := newCursor(body)
	n := int(c.u32())
	c.u8() // option flags: cascade/restart identity, not needed downstream
	ids := make([]uint32, n)
	for i := 0; i < n; i++ {
		ids[i] = c.u32()
	}
	return ids, c.err
}
