package mysqlrepl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDecimalPositive(t *testing.T) {
	c := newCursor([]byte{0x8C, 0x22})
	d, err := decodeDecimal(c, (4 << 8) | 2)
	require.NoError(t, err)
	assert.Equal(t, "12.34", d.String())
}

func TestDecodeDecimalNegative(t *testing.T) {
	c := newCursor([]byte{0x73, 0xDD})
	d, err := decodeDecimal(c, (4 << 8) | 2)
	require.NoError(t, err)
	assert.Equal(t, "-12.34", d.String())
}

func TestLenencIntWidths(t *testing.T) {
	cases := []struct {
		in   []byte
		want uint64
	}{
		{[]byte{0x05}, 5},
		{[]byte{0xfc, 0x01, 0x01}, 257},
		{[]byte{0xfd, 0x01, 0x00, 0x01}, 0x010001},
	}
	for _, tc := range cases {
		c := newCursor(tc.in)
		got := c.lenencInt()
		require.NoError(t, c.err)
		assert.Equal(t, tc.want, got)
	}
}

func TestDecodeDateAndDatetime2(t *testing.T) {
	// 2024-03-15 packed as year<<9 | month<<5 | day.
	v := uint32(2024)<<9 | uint32(3)<<5 | uint32(15)
	buf := []byte{byte(v), byte(v >> 8), byte(v >> 16)}
	s, err := decodeDate(newCursor(buf))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", s)

	// DATETIME2 2024-03-15 10:20:30, fsp 0: 5 big-endian bytes holding
	// ((year*13+month)<<5|day)<<17 | hour<<12 | minute<<6 | second, sign bit set.
	packed := (uint64(2024*13+3)<<5|15)<<17 | uint64(10)<<12 | uint64(20)<<6 | 30 | 1<<39
	dt := []byte{byte(packed >> 32), byte(packed >> 24), byte(packed >> 16), byte(packed >> 8), byte(packed)}
	s, err = decodeDatetime2(newCursor(dt), 0)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15T10:20:30", s)
}

func TestDecodeBitField(t *testing.T) {
	// meta: 1 byte holding 9 bits total (1 whole byte + 1 extra bit).
	meta := uint16(1)<<8 | 1
	c := newCursor([]byte{0x01, 0xFF})
	got, err := decodeBit(c, meta)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x01FF), got)
}

func TestDecodeValueWrapsEnumAndSetSeparately(t *testing.T) {
	v, err := decodeValue(newCursor([]byte{0x02}), ColEnum, 1)
	require.NoError(t, err)
	assert.Equal(t, EnumIndex(2), v)

	v, err = decodeValue(newCursor([]byte{0x05, 0x00}), ColSet, 2)
	require.NoError(t, err)
	assert.Equal(t, SetBitmask(5), v)
}

func TestDecodeEnumOrSetValueReadsArbitraryWidth(t *testing.T) {
	// A SET with up to 64 members packs into 8 bytes.
	c := newCursor([]byte{0x01, 0x02, 0, 0, 0, 0, 0, 0})
	v, err := decodeEnumOrSetValue(c, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0201), v)
}

func TestRenderBinaryPreservesControlBytesAndTruncates(t *testing.T) {
	// Control-byte escaping is encoding/json's job at marshal time, not
	// renderBinary's: the raw control byte must survive here unescaped.
	out := renderBinary([]byte{'a', 0x01, 'b'})
	assert.Equal(t, "a\x01b", out)

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	truncated := renderBinary(long)
	assert.True(t, len(truncated) < 300)
	assert.Contains(t, truncated, "...")
}
