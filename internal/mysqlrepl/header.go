package mysqlrepl

import "fmt"

// eventHeaderSize is the fixed v4 binlog event header length (spec §4.2).
const eventHeaderSize = 19

// EventHeader is the fixed-size header prefixing every binlog event.
type EventHeader struct {
	Timestamp uint32
	Type      EventType
	ServerID  uint32
	EventSize uint32
	NextPos   uint32
	Flags     uint16
}

// decodeEventHeader reads the 19-byte v4 event header from the front of
// buf, returning the header and the remaining body bytes (checksum, if
// any, still attached — the caller trims it once the checksum length is
// known).
func decodeEventHeader(buf []byte) (EventHeader, []byte, error) {
	if len(buf) < eventHeaderSize {
		return EventHeader{}, nil, fmt.Errorf("mysqlrepl: event too short for header: %d bytes", len(buf))
	}
	c := newCursor(buf[:eventHeaderSize])
	h := EventHeader{
		Timestamp: c.u32(),
		Type:      EventType(c.u8()),
		ServerID:  c.u32(),
		EventSize: c.u32(),
		NextPos:   c.u32(),
		Flags:     c.u16(),
	}
	if c.err != nil {
		return EventHeader{}, nil, c.err
	}
	return h, buf[eventHeaderSize:], nil
}
