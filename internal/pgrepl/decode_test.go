package pgrepl

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRelationBody(relID uint32, ns, name string, cols []RelationColumn) []byte {
	var b []byte
	idBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(idBuf, relID)
	b = append(b, idBuf...)
	b = append(b, []byte(ns)...)
	b = append(b, 0x00)
	b = append(b, []byte(name)...)
	b = append(b, 0x00)
	b = append(b, 'd') // replica identity default

	countBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(countBuf, uint16(len(cols)))
	b = append(b, countBuf...)

	for _, col := range cols {
		var flags byte
		if col.IsKey {
			flags = 0x01
		}
		b = append(b, flags)
		b = append(b, []byte(col.Name)...)
		b = append(b, 0x00)
		oidBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(oidBuf, col.TypeOID)
		b = append(b, oidBuf...)
		modBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(modBuf, uint32(col.TypeMod))
		b = append(b, modBuf...)
	}
	return b
}

func TestDecodeRelation(t *testing.T) {
	body := buildRelationBody(55, "shop", "orders", []RelationColumn{
		{IsKey: true, Name: "id", TypeOID: 23, TypeMod: -1},
		{IsKey: false, Name: "total", TypeOID: 1700, TypeMod: -1},
	})

	rel, err := decodeRelation(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(55), rel.RelationID)
	assert.Equal(t, "shop", rel.Namespace)
	assert.Equal(t, "orders", rel.RelationName)
	assert.Equal(t, byte('d'), rel.ReplicaIdentity)
	require.Len(t, rel.Columns, 2)
	assert.True(t, rel.Columns[0].IsKey)
	assert.Equal(t, "id", rel.Columns[0].Name)
	assert.False(t, rel.Columns[1].IsKey)
	assert.Equal(t, "total", rel.Columns[1].Name)
}

func TestDecodeTruncate(t *testing.T) {
	var b []byte
	nBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(nBuf, 2)
	b = append(b, nBuf...)
	b = append(b, 0x00) // option flags
	for _, id := range []uint32{7, 9} {
		idBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(idBuf, id)
		b = append(b, idBuf...)
	}

	ids, err := decodeTruncate(b)
	require.NoError(t, err)
	assert.Equal(t, []uint32{7, 9}, ids)
}

func TestDecodeTupleDataMixedKinds(t *testing.T) {
	var b []byte
	countBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(countBuf, 3)
	b = append(b, countBuf...)

	b = append(b, 'n') // null
	b = append(b, 'u') // unchanged TOAST

	text := []byte("hello")
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(text)))
	b = append(b, 't')
	b = append(b, lenBuf...)
	b = append(b, text...)

	cols, err := decodeTupleData(newCursor(b))
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, byte('n'), cols[0].Kind)
	assert.Equal(t, byte('u'), cols[1].Kind)
	assert.Equal(t, "hello", cols[2].Text)
}

func TestTupleToWireRowNullAndUnchangedBothSurfaceAsNil(t *testing.T) {
	rel := &Relation{Columns: []RelationColumn{{Name: "id"}, {Name: "note"}, {Name: "total"}}}
	tuple := []TupleColumn{
		{Kind: 't', Text: "42"},
		{Kind: 'n'},
		{Kind: 'u'},
	}

	row := tupleToWireRow(rel, tuple)
	require.Len(t, row, 3)
	assert.Equal(t, "42", row[0])
	assert.Nil(t, row[1])
	assert.Nil(t, row[2])
}

func TestBuildStandbyStatusUpdateLayout(t *testing.T) {
	buf := buildStandbyStatusUpdate(0x1234, true)
	require.Len(t, buf, 34)
	assert.Equal(t, byte('r'), buf[0])
	assert.Equal(t, uint64(0x1234), binary.BigEndian.Uint64(buf[1:9]))
	assert.Equal(t, uint64(0x1234), binary.BigEndian.Uint64(buf[9:17]))
	assert.Equal(t, uint64(0x1234), binary.BigEndian.Uint64(buf[17:25]))
	assert.Equal(t, byte(1), buf[33])

	noReply := buildStandbyStatusUpdate(0x1234, false)
	assert.Equal(t, byte(0), noReply[33])
}
