package mysqlrepl

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MySQL's internal binary JSON representation (spec §4.2b), as written
// by JSON columns in row events. Type codes below match the ones
// defined in MySQL's json_binary.cc.
const (
	jsonSmallObject = 0
	jsonLargeObject = 1
	jsonSmallArray  = 2
	jsonLargeArray  = 3
	jsonLiteral     = 4
	jsonInt16       = 5
	jsonUint16      = 6
	jsonInt32       = 7
	jsonUint32      = 8
	jsonInt64       = 9
	jsonUint64      = 10
	jsonDouble      = 11
	jsonString      = 12
	jsonOpaque      = 15
)

const (
	jsonLiteralNull  = 0
	jsonLiteralTrue  = 1
	jsonLiteralFalse = 2
)

// decodeMySQLJSON parses a full binary JSON document (the type byte
// followed by its value) into plain Go values (map[string]any,
// []any, string, float64, bool, nil) suitable for re-marshaling as
// ordinary JSON by the event shaper.
func decodeMySQLJSON(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return decodeJSONValue(data[0], data[1:])
}

func decodeJSONValue(typ byte, data []byte) (any, error) {
	switch typ {
	case jsonSmallObject:
		return decodeJSONObject(data, false)
	case jsonLargeObject:
		return decodeJSONObject(data, true)
	case jsonSmallArray:
		return decodeJSONArray(data, false)
	case jsonLargeArray:
		return decodeJSONArray(data, true)
	case jsonLiteral:
		if len(data) < 1 {
			return nil, fmt.Errorf("mysqlrepl: truncated json literal")
		}
		switch data[0] {
		case jsonLiteralNull:
			return nil, nil
		case jsonLiteralTrue:
			return true, nil
		case jsonLiteralFalse:
			return false, nil
		default:
			return nil, fmt.Errorf("mysqlrepl: unknown json literal %d", data[0])
		}
	case jsonInt16:
		return float64(int16(binary.LittleEndian.Uint16(data))), nil
	case jsonUint16:
		return float64(binary.LittleEndian.Uint16(data)), nil
	case jsonInt32:
		return float64(int32(binary.LittleEndian.Uint32(data))), nil
	case jsonUint32:
		return float64(binary.LittleEndian.Uint32(data)), nil
	case jsonInt64:
		return float64(int64(binary.LittleEndian.Uint64(data))), nil
	case jsonUint64:
		return float64(binary.LittleEndian.Uint64(data)), nil
	case jsonDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	case jsonString:
		c := newCursor(data)
		n := c.lenencJSON()
		return string(c.bytes(int(n))), c.err
	case jsonOpaque:
		// One type byte (the underlying SQL type, e.g. DECIMAL or DATE)
		// followed by a lenenc-length payload; rendered as an escaped
		// string since the shaper only needs a readable representation.
		if len(data) < 1 {
			return nil, fmt.Errorf("mysqlrepl: truncated json opaque")
		}
		c := newCursor(data[1:])
		n := c.lenencJSON()
		b := c.bytes(int(n))
		return renderBinary(b), c.err
	default:
		return nil, fmt.Errorf("mysqlrepl: unsupported json value type %d", typ)
	}
}

// lenencJSON reads the JSON-specific variable-length integer encoding:
// 1-5 bytes, 7 data bits per byte, little-endian, continuation flagged
// by the high bit (distinct from the MySQL protocol's lenenc integer).
func (c *cursor) lenencJSON() uint32 {
	var result uint32
	for i := 0; i < 5; i++ {
		b := c.u8()
		if c.err != nil {
			return 0
		}
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			break
		}
	}
	return result
}

func decodeJSONObject(data []byte, large bool) (map[string]any, error) {
	c := newCursor(data)
	count, size := jsonHeaderCounts(c, large)
	if c.err != nil {
		return nil, c.err
	}
	keyEntries := make([][2]uint32, count) // offset, length
	for i := uint32(0); i < count; i++ {
		_ = c.jsonOffset(large) // key offset, unused: keys follow entries contiguously
		keyEntries[i][1] = uint32(c.jsonKeyLen())
	}
	valueTypes := make([]byte, count)
	valueInline := make([][]byte, count)
	for i := uint32(0); i < count; i++ {
		vt := c.u8()
		valueTypes[i] = vt
		valueInline[i] = c.bytes(jsonInlineSize(vt, large))
	}
	keys := make([]string, count)
	for i := uint32(0); i < count; i++ {
		keys[i] = string(c.bytes(int(keyEntries[i][1])))
	}
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string]any, count)
	for i := uint32(0); i < count; i++ {
		v, err := decodeJSONInlineOrOffset(data, size, valueTypes[i], valueInline[i], large)
		if err != nil {
			return nil, err
		}
		out[keys[i]] = v
	}
	return out, nil
}

func decodeJSONArray(data []byte, large bool) ([]any, error) {
	c := newCursor(data)
	count, size := jsonHeaderCounts(c, large)
	if c.err != nil {
		return nil, c.err
	}
	valueTypes := make([]byte, count)
	valueInline := make([][]byte, count)
	for i := uint32(0); i < count; i++ {
		vt := c.u8()
		valueTypes[i] = vt
		valueInline[i] = c.bytes(jsonInlineSize(vt, large))
	}
	if c.err != nil {
		return nil, c.err
	}
	out := make([]any, count)
	for i := uint32(0); i < count; i++ {
		v, err := decodeJSONInlineOrOffset(data, size, valueTypes[i], valueInline[i], large)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func jsonHeaderCounts(c *cursor, large bool) (count uint32, size uint32) {
	if large {
		return c.u32(), c.u32()
	}
	return uint32(c.u16()), uint32(c.u16())
}

func (c *cursor) jsonOffset(large bool) uint32 {
	if large {
		return c.u32()
	}
	return uint32(c.u16())
}

func (c *cursor) jsonKeyLen() uint16 { return c.u16() }

func jsonInlineSize(valueType byte, large bool) int {
	switch valueType {
	case jsonLiteral:
		if large {
			return 4
		}
		return 2
	case jsonInt16, jsonUint16:
		if large {
			return 4
		}
		return 2
	case jsonInt32, jsonUint32:
		if large {
			return 4
		}
		return 2 // only inline in large documents; small documents store a 2-byte offset
	default:
		if large {
			return 4
		}
		return 2
	}
}

// decodeJSONInlineOrOffset resolves a value that is either stored
// inline (small scalar types) or as an offset into doc pointing at the
// real type+value pair (everything else).
func decodeJSONInlineOrOffset(doc []byte, _ uint32, valueType byte, inline []byte, large bool) (any, error) {
	switch valueType {
	case jsonLiteral:
		b := byte(0)
		if len(inline) > 0 {
			b = inline[0]
		}
		switch b {
		case jsonLiteralNull:
			return nil, nil
		case jsonLiteralTrue:
			return true, nil
		case jsonLiteralFalse:
			return false, nil
		default:
			return nil, nil
		}
	case jsonInt16:
		return float64(int16(binary.LittleEndian.Uint16(inline))), nil
	case jsonUint16:
		return float64(binary.LittleEndian.Uint16(inline)), nil
	case jsonInt32:
		if large {
			return float64(int32(binary.LittleEndian.Uint32(inline))), nil
		}
	case jsonUint32:
		if large {
			return float64(binary.LittleEndian.Uint32(inline)), nil
		}
	}
	var offset uint32
	if large {
		offset = binary.LittleEndian.Uint32(inline)
	} else {
		offset = uint32(binary.LittleEndian.Uint16(inline))
	}
	if int(offset) >= len(doc) {
		return nil, fmt.Errorf("mysqlrepl: json value offset %d out of range", offset)
	}
	return decodeJSONValue(doc[offset], doc[offset+1:])
}
