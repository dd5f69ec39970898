package mysqlrepl

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// decodeValue reads one column's value from c, dispatching on its
// TABLE_MAP-declared type and metadata (spec §4.2 "Required type
// coverage"). The returned value uses the output policy of spec §4.5:
// numbers as Go numeric types (later marshaled as JSON numbers),
// temporal values as strings, binary payloads as escaped/truncated
// strings.
func decodeValue(c *cursor, t ColumnType, meta uint16) (any, error) {
	switch t {
	case ColTiny:
		return int64(int8(c.u8())), c.err
	case ColShort:
		return int64(int16(c.u16())), c.err
	case ColInt24:
		v := c.u24()
		return int64(signExtend24(v)), c.err
	case ColLong:
		return int64(int32(c.u32())), c.err
	case ColLongLong:
		return int64(c.u64()), c.err
	case ColFloat:
		return float64(math.Float32frombits(c.u32())), c.err
	case ColDouble:
		return math.Float64frombits(c.u64()), c.err
	case ColYear:
		b := c.u8()
		if b == 0 {
			return nil, c.err
		}
		return int64(1900 + int(b)), c.err
	case ColDecimal, ColNewDecimal:
		return decodeDecimal(c, meta)
	case ColDate:
		return decodeDate(c)
	case ColTime:
		return decodeTimeOld(c)
	case ColTime2:
		return decodeTime2(c, int(meta))
	case ColDateTime:
		return decodeDatetimeOld(c)
	case ColDateTime2:
		return decodeDatetime2(c, int(meta))
	case ColTimestamp:
		sec := c.u32()
		return time.Unix(int64(sec), 0).UTC().Format(time.RFC3339), c.err
	case ColTimestamp2:
		return decodeTimestamp2(c, int(meta))
	case ColVarchar, ColVarString:
		return decodeVarString(c, meta)
	case ColString:
		return decodeFixedString(c, meta)
	case ColBit:
		return decodeBit(c, meta)
	case ColEnum:
		v, err := decodeEnumOrSetValue(c, meta)
		return EnumIndex(v), err
	case ColSet:
		v, err := decodeEnumOrSetValue(c, meta)
		return SetBitmask(v), err
	case ColBlob, ColTinyBlob, ColMediumBlob, ColLongBlob:
		return decodeBlobLike(c, meta, true)
	case ColJSON:
		raw, err := decodeBlobLike(c, meta, false)
		if err != nil {
			return nil, err
		}
		b, _ := raw.([]byte)
		return decodeMySQLJSON(b)
	case ColGeometry:
		return decodeBlobLike(c, meta, true)
	default:
		return nil, fmt.Errorf("mysqlrepl: unsupported column type %d", t)
	}
}

func signExtend24(v uint32) int32 {
	if v&0x800000 != 0 {
		return int32(v | 0xFF000000)
	}
	return int32(v)
}

// --- DECIMAL ---

var compressedBytes = [10]int{0, 1, 1, 2, 2, 3, 3, 4, 4, 4}

const digitsPerInteger = 9

// decodeDecimal implements MySQL's NEWDECIMAL binary packing: digits
// are grouped into 9-digit "integers" stored big-endian, with a
// leftover partial group packed into the minimal number of bytes per
// compressedBytes; the whole buffer has its sign bit flipped so
// unsigned big-endian comparison matches decimal ordering.
func decodeDecimal(c *cursor, meta uint16) (decimal.Decimal, error) {
	precision := int(meta >> 8)
	scale := int(meta & 0xFF)
	integral := precision - scale
	uncompIntegral := integral / digitsPerInteger
	uncompFractional := scale / digitsPerInteger
	compIntegral := integral - uncompIntegral*digitsPerInteger
	compFractional := scale - uncompFractional*digitsPerInteger

	raw := c.bytes(decimalWidth(meta))
	if c.err != nil {
		return decimal.Decimal{}, c.err
	}
	buf := make([]byte, len(raw))
	copy(buf, raw)

	positive := buf[0]&0x80 != 0
	buf[0] ^= 0x80
	if !positive {
		for i := range buf {
			buf[i] ^= 0xFF
		}
	}

	pos := 0
	s := ""
	if !positive {
		s += "-"
	}
	if compIntegral > 0 {
		n := compressedBytes[compIntegral]
		s += fmt.Sprintf("%d", beUint(buf[pos:pos+n]))
		pos += n
	}
	for i := 0; i < uncompIntegral; i++ {
		s += fmt.Sprintf("%09d", binary.BigEndian.Uint32(buf[pos:pos+4]))
		pos += 4
	}
	if s == "" || s == "-" {
		s += "0"
	}
	if scale > 0 {
		s += "."
		for i := 0; i < uncompFractional; i++ {
			s += fmt.Sprintf("%09d", binary.BigEndian.Uint32(buf[pos:pos+4]))
			pos += 4
		}
		if compFractional > 0 {
			n := compressedBytes[compFractional]
			s += fmt.Sprintf("%0*d", compFractional, beUint(buf[pos:pos+n]))
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("mysqlrepl: decimal parse %q: %w", s, err)
	}
	return d, nil
}

// decimalWidth computes a NEWDECIMAL value's packed byte width without
// decoding its digits, shared by decodeDecimal and skipValue.
func decimalWidth(meta uint16) int {
	precision := int(meta >> 8)
	scale := int(meta & 0xFF)
	integral := precision - scale
	uncompIntegral := integral / digitsPerInteger
	uncompFractional := scale / digitsPerInteger
	compIntegral := integral - uncompIntegral*digitsPerInteger
	compFractional := scale - uncompFractional*digitsPerInteger
	return uncompIntegral*4 + compressedBytes[compIntegral] +
		uncompFractional*4 + compressedBytes[compFractional]
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// --- DATE / TIME / DATETIME (pre-5.6.4 and v2) ---

func decodeDate(c *cursor) (string, error) {
	v := c.u24()
	if c.err != nil {
		return "", c.err
	}
	day := v & 0x1F
	month := (v >> 5) & 0x0F
	year := v >> 9
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), nil
}

func decodeTimeOld(c *cursor) (string, error) {
	v := c.u24()
	if c.err != nil {
		return "", c.err
	}
	sec := v % 100
	v /= 100
	min := v % 100
	v /= 100
	hour := v
	return fmt.Sprintf("%02d:%02d:%02d", hour, min, sec), nil
}

func decodeDatetimeOld(c *cursor) (string, error) {
	raw := c.u64()
	if c.err != nil {
		return "", c.err
	}
	v := raw
	sec := v % 100
	v /= 100
	min := v % 100
	v /= 100
	hour := v % 100
	v /= 100
	day := v % 100
	v /= 100
	month := v % 100
	v /= 100
	year := v
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", year, month, day, hour, min, sec), nil
}

func fractionalBytes(fsp int) int {
	switch {
	case fsp <= 0:
		return 0
	case fsp <= 2:
		return 1
	case fsp <= 4:
		return 2
	default:
		return 3
	}
}

func decodeFractionalMicros(c *cursor, fsp int) int64 {
	n := fractionalBytes(fsp)
	if n == 0 {
		return 0
	}
	b := c.bytes(n)
	if b == nil {
		return 0
	}
	v := int64(beUint(b))
	switch n {
	case 1:
		v *= 10000
	case 2:
		v *= 100
	}
	return v
}

func decodeTime2(c *cursor, fsp int) (string, error) {
	raw := c.bytes(3)
	if c.err != nil {
		return "", c.err
	}
	ival := int64(beUint(raw)) ^ (1 << 23)
	hour := (ival >> 12) & 0x3FF
	minute := (ival >> 6) & 0x3F
	second := ival & 0x3F
	micros := decodeFractionalMicros(c, fsp)
	if c.err != nil {
		return "", c.err
	}
	if micros == 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hour, minute, second), nil
	}
	return fmt.Sprintf("%02d:%02d:%02d.%06d", hour, minute, second, micros), nil
}

func decodeDatetime2(c *cursor, fsp int) (string, error) {
	raw := c.bytes(5)
	if c.err != nil {
		return "", c.err
	}
	ival := beUint(raw) ^ (1 << 39)
	ymd := ival >> 17
	ym := ymd >> 5
	day := ymd % (1 << 5)
	year := ym / 13
	month := ym % 13
	hms := ival % (1 << 17)
	hour := hms >> 12
	minute := (hms >> 6) % (1 << 6)
	second := hms % (1 << 6)
	micros := decodeFractionalMicros(c, fsp)
	if c.err != nil {
		return "", c.err
	}
	if micros == 0 {
		return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", year, month, day, hour, minute, second), nil
	}
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%06d", year, month, day, hour, minute, second, micros), nil
}

func decodeTimestamp2(c *cursor, fsp int) (string, error) {
	b := c.bytes(4)
	if c.err != nil {
		return "", c.err
	}
	sec := binary.BigEndian.Uint32(b)
	micros := decodeFractionalMicros(c, fsp)
	if c.err != nil {
		return "", c.err
	}
	t := time.Unix(int64(sec), micros*1000).UTC()
	return t.Format(time.RFC3339Nano), nil
}

// --- strings / bit / blob ---

func decodeVarString(c *cursor, meta uint16) (string, error) {
	var length int
	if meta > 255 {
		length = int(c.u16())
	} else {
		length = int(c.u8())
	}
	b := c.bytes(length)
	return string(b), c.err
}

// decodeFixedString handles ColString, whose metadata packs a real
// type byte and a length byte together (MySQL stores CHAR, and the
// narrow numeric encoding of ENUM/SET that predates the dedicated
// ENUM/SET path, under this shared type code).
func decodeFixedString(c *cursor, meta uint16) (any, error) {
	byte0 := byte(meta >> 8)
	byte1 := byte(meta & 0xFF)
	var realType ColumnType
	var length int
	if byte0&0x30 != 0x30 {
		length = int(byte1) | ((int(byte0&0x30) ^ 0x30) << 4)
		realType = ColumnType(byte0 | 0x30)
	} else {
		length = int(byte1)
		realType = ColumnType(byte0)
	}
	switch realType {
	case ColEnum, ColSet:
		v, err := decodeEnumOrSetValue(c, uint16(length))
		if err != nil {
			return nil, err
		}
		if realType == ColSet {
			return SetBitmask(v), nil
		}
		return EnumIndex(v), nil
	default:
		var strLen int
		if length > 255 {
			strLen = int(c.u16())
		} else {
			strLen = int(c.u8())
		}
		b := c.bytes(strLen)
		return string(b), c.err
	}
}

// EnumIndex is a raw ENUM ordinal as decoded off the wire (1-indexed;
// 0 is MySQL's invalid/empty-string member). The decoder layer expands
// it to its label via the enum cache, since decodeValue has no access
// to schema.Cache or the side channel.
type EnumIndex uint64

// SetBitmask is a raw SET bitfield as decoded off the wire, bit i
// (0-indexed) selecting the column's i'th declared member. The decoder
// layer expands it to its comma-joined labels the same way as EnumIndex.
type SetBitmask uint64

// decodeEnumOrSetValue reads an ENUM ordinal or SET bitmask packed as a
// widthBytes-byte little-endian integer: ENUM packs into 1 or 2 bytes
// depending on its member count, SET into as many bytes as its member
// count needs (up to 8, for 64 members).
func decodeEnumOrSetValue(c *cursor, widthBytes uint16) (uint64, error) {
	b := c.bytes(int(widthBytes))
	if c.err != nil {
		return 0, c.err
	}
	var v uint64
	for i, x := range b {
		v |= uint64(x) << (8 * uint(i))
	}
	return v, nil
}

func decodeBit(c *cursor, meta uint16) (uint64, error) {
	nbits := int(meta>>8)*8 + int(meta&0xFF)
	length := (nbits + 7) / 8
	b := c.bytes(length)
	return beUint(b), c.err
}

// decodeBlobLike reads a length-prefixed binary payload whose prefix
// width (1-4 bytes, little-endian) is given directly by meta, the
// convention shared by BLOB/TINYBLOB/MEDIUMBLOB/LONGBLOB, JSON and
// GEOMETRY. When asString is true the caller wants the spec §4.5
// escaped/truncated string rendering instead of raw bytes.
func decodeBlobLike(c *cursor, meta uint16, asString bool) (any, error) {
	var length int
	switch meta {
	case 1:
		length = int(c.u8())
	case 2:
		length = int(c.u16())
	case 3:
		length = int(c.u24())
	case 4:
		length = int(c.u32())
	default:
		return nil, fmt.Errorf("mysqlrepl: invalid blob length-prefix width %d", meta)
	}
	b := c.bytes(length)
	if c.err != nil {
		return nil, c.err
	}
	if !asString {
		return b, nil
	}
	return renderBinary(b), nil
}

const blobTruncateLimit = 200

// renderBinary applies the spec §4.5 binary rendering policy: truncate
// long payloads with a trailing marker. Control-byte escaping is left
// to encoding/json's own string encoder (event.Record.MarshalJSON):
// pre-escaping here would hand json.Marshal a literal backslash byte,
// which it escapes a second time into a double-escaped \\u00XX on the
// wire instead of the single \u00XX the value actually had.
func renderBinary(b []byte) string {
	if len(b) > blobTruncateLimit {
		return string(b[:blobTruncateLimit]) + "..."
	}
	return string(b)
}

// --- skip (no interpretation) ---
//
// skipValue mirrors decodeValue's dispatch exactly, but only advances c
// past the column's bytes instead of interpreting them. It exists for
// columns outside a table's capture allow-list: spec §3/§4.5 requires
// their bytes to be "skipped, never decoded", so a malformed or
// unsupported value in an excluded column (a GEOMETRY blob, odd decimal
// digit grouping, broken embedded JSON) can never fail the row.
func skipValue(c *cursor, t ColumnType, meta uint16) error {
	switch t {
	case ColTiny, ColYear:
		c.skip(1)
	case ColShort:
		c.skip(2)
	case ColInt24:
		c.skip(3)
	case ColLong, ColFloat, ColTimestamp:
		c.skip(4)
	case ColLongLong, ColDouble, ColDateTime:
		c.skip(8)
	case ColDecimal, ColNewDecimal:
		c.skip(decimalWidth(meta))
	case ColDate, ColTime:
		c.skip(3)
	case ColTime2:
		c.skip(3 + fractionalBytes(int(meta)))
	case ColDateTime2:
		c.skip(5 + fractionalBytes(int(meta)))
	case ColTimestamp2:
		c.skip(4 + fractionalBytes(int(meta)))
	case ColVarchar, ColVarString:
		var length int
		if meta > 255 {
			length = int(c.u16())
		} else {
			length = int(c.u8())
		}
		c.skip(length)
	case ColString:
		return skipFixedString(c, meta)
	case ColBit:
		nbits := int(meta>>8)*8 + int(meta&0xFF)
		c.skip((nbits + 7) / 8)
	case ColEnum, ColSet:
		c.skip(int(meta))
	case ColBlob, ColTinyBlob, ColMediumBlob, ColLongBlob, ColJSON, ColGeometry:
		return skipBlobLike(c, meta)
	default:
		return fmt.Errorf("mysqlrepl: unsupported column type %d", t)
	}
	return c.err
}

// skipFixedString mirrors decodeFixedString's ColString real-type
// unpacking without materializing the string.
func skipFixedString(c *cursor, meta uint16) error {
	byte0 := byte(meta >> 8)
	byte1 := byte(meta & 0xFF)
	var realType ColumnType
	var length int
	if byte0&0x30 != 0x30 {
		length = int(byte1) | ((int(byte0&0x30) ^ 0x30) << 4)
		realType = ColumnType(byte0 | 0x30)
	} else {
		length = int(byte1)
		realType = ColumnType(byte0)
	}
	switch realType {
	case ColEnum, ColSet:
		c.skip(length)
	default:
		var strLen int
		if length > 255 {
			strLen = int(c.u16())
		} else {
			strLen = int(c.u8())
		}
		c.skip(strLen)
	}
	return c.err
}

// skipBlobLike mirrors decodeBlobLike's length-prefix handling without
// reading the payload bytes out.
func skipBlobLike(c *cursor, meta uint16) error {
	var length int
	switch meta {
	case 1:
		length = int(c.u8())
	case 2:
		length = int(c.u16())
	case 3:
		length = int(c.u24())
	case 4:
		length = int(c.u32())
	default:
		return fmt.Errorf("mysqlrepl: invalid blob length-prefix width %d", meta)
	}
	c.skip(length)
	return c.err
}
