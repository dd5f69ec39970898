package mysqlrepl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTableMapBody hand-assembles a TABLE_MAP_EVENT body for a
// 2-column table: col0 LONG (no metadata), col1 VARCHAR(100) (2-byte
// metadata), neither column nullable.
func buildTableMapBody(tableID uint64, schemaName, tableName string) []byte {
	var b []byte
	id := make([]byte, 6)
	for i := 0; i < 6; i++ {
		id[i] = byte(tableID >> (8 * i))
	}
	b = append(b, id...)
	b = append(b, 0x00, 0x00) // flags

	b = append(b, byte(len(schemaName)))
	b = append(b, []byte(schemaName)...)
	b = append(b, 0x00)

	b = append(b, byte(len(tableName)))
	b = append(b, []byte(tableName)...)
	b = append(b, 0x00)

	b = append(b, 0x02) // column count
	b = append(b, byte(ColLong), byte(ColVarchar))

	b = append(b, 0x02)       // metadata block length
	b = append(b, 0x64, 0x00) // varchar meta = 100

	b = append(b, 0x00) // null bitmap, 1 byte, no columns nullable
	return b
}

// buildWriteRowsV2Body hand-assembles a WRITE_ROWS_EVENTv2 body
// inserting one row: col0=42, col1="hello".
func buildWriteRowsV2Body(tableID uint64) []byte {
	var b []byte
	id := make([]byte, 6)
	for i := 0; i < 6; i++ {
		id[i] = byte(tableID >> (8 * i))
	}
	b = append(b, id...)
	b = append(b, 0x00, 0x00) // flags
	b = append(b, 0x02, 0x00) // extra-info length = 2 (itself only)
	b = append(b, 0x02)       // column count (lenenc, < 0xfb)
	b = append(b, 0x03)       // present-columns bitmap: both bits set

	// row 1: null bitmap (1 byte, presentCount=2, no nulls)
	b = append(b, 0x00)
	// col0 LONG = 42
	b = append(b, 42, 0, 0, 0)
	// col1 VARCHAR, length-prefix 1 byte (meta <= 255): "hello"
	b = append(b, byte(len("hello")))
	b = append(b, []byte("hello")...)
	return b
}

func TestDecodeTableMapAndWriteRows(t *testing.T) {
	tm, err := decodeTableMap(buildTableMapBody(7, "shop", "orders"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), tm.TableID)
	assert.Equal(t, "shop", tm.SchemaName)
	assert.Equal(t, "orders", tm.TableName)
	require.Len(t, tm.ColumnTypes, 2)
	assert.Equal(t, ColLong, tm.ColumnTypes[0])
	assert.Equal(t, ColVarchar, tm.ColumnTypes[1])
	assert.False(t, tm.Nullable[0])
	assert.False(t, tm.Nullable[1])

	re, err := decodeRowsEvent(EventWriteRowsV2, buildWriteRowsV2Body(7), tm, nil)
	require.NoError(t, err)
	require.Len(t, re.Rows, 1)
	assert.Nil(t, re.Rows[0].Before)
	require.Len(t, re.Rows[0].After, 2)
	assert.Equal(t, int64(42), re.Rows[0].After[0])
	assert.Equal(t, "hello", re.Rows[0].After[1])
}

func TestDecodeRowsEventSkipsAbsentColumnsWithoutConsumingBitmap(t *testing.T) {
	tm, err := decodeTableMap(buildTableMapBody(9, "shop", "orders"))
	require.NoError(t, err)

	var b []byte
	id := make([]byte, 6)
	id[0] = 9
	b = append(b, id...)
	b = append(b, 0x00, 0x00)
	b = append(b, 0x02, 0x00)
	b = append(b, 0x02) // column count
	b = append(b, 0x01) // present bitmap: only col0 present, col1 absent

	// row: null bitmap sized by presentCount=1 (1 byte), no nulls
	b = append(b, 0x00)
	b = append(b, 7, 0, 0, 0) // col0 LONG = 7, col1 skipped entirely

	re, err := decodeRowsEvent(EventWriteRowsV2, b, tm, nil)
	require.NoError(t, err)
	require.Len(t, re.Rows, 1)
	assert.Equal(t, int64(7), re.Rows[0].After[0])
	assert.Nil(t, re.Rows[0].After[1])
}

// buildTableMapWithJSONBody hand-assembles a TABLE_MAP_EVENT body for a
// 2-column table: col0 LONG (no metadata), col1 JSON (1-byte metadata
// holding the blob length-prefix width).
func buildTableMapWithJSONBody(tableID uint64, schemaName, tableName string) []byte {
	var b []byte
	id := make([]byte, 6)
	for i := 0; i < 6; i++ {
		id[i] = byte(tableID >> (8 * i))
	}
	b = append(b, id...)
	b = append(b, 0x00, 0x00) // flags

	b = append(b, byte(len(schemaName)))
	b = append(b, []byte(schemaName)...)
	b = append(b, 0x00)

	b = append(b, byte(len(tableName)))
	b = append(b, []byte(tableName)...)
	b = append(b, 0x00)

	b = append(b, 0x02) // column count
	b = append(b, byte(ColLong), byte(ColJSON))

	b = append(b, 0x01) // metadata block length
	b = append(b, 0x04) // JSON length-prefix width = 4 bytes

	b = append(b, 0x00) // null bitmap, 1 byte, no columns nullable
	return b
}

func TestDecodeRowValuesSkipsUnwantedColumnEvenIfMalformed(t *testing.T) {
	tm, err := decodeTableMap(buildTableMapWithJSONBody(11, "shop", "orders"))
	require.NoError(t, err)

	var b []byte
	id := make([]byte, 6)
	id[0] = 11
	b = append(b, id...)
	b = append(b, 0x00, 0x00) // flags
	b = append(b, 0x02, 0x00) // extra-info length = 2 (itself only)
	b = append(b, 0x02)       // column count
	b = append(b, 0x03)       // present bitmap: both columns present

	b = append(b, 0x00)      // null bitmap, presentCount=2, no nulls
	b = append(b, 9, 0, 0, 0) // col0 LONG = 9
	// col1 JSON: 4-byte length prefix = 3, followed by an unrecognized
	// JSON type byte that decodeMySQLJSON cannot parse.
	b = append(b, 0x03, 0x00, 0x00, 0x00)
	b = append(b, 0xFF, 0xFF, 0xFF)

	wanted := []bool{true, false}
	re, err := decodeRowsEvent(EventWriteRowsV2, b, tm, wanted)
	require.NoError(t, err)
	require.Len(t, re.Rows, 1)
	assert.Equal(t, int64(9), re.Rows[0].After[0])
	assert.Nil(t, re.Rows[0].After[1])

	// Decoding the same malformed JSON column when it IS wanted fails,
	// confirming the skip path above is what avoids the failure.
	_, err = decodeRowsEvent(EventWriteRowsV2, b, tm, nil)
	assert.Error(t, err)
}
