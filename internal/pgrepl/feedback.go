package pgrepl

import (
	"encoding/binary"
	"time"
)

// postgresEpoch is 2000-01-01 00:00:00 UTC, the epoch Postgres uses for
// all replication protocol timestamps (spec §4.3 "Postgres epoch
// microseconds").
var postgresEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func pgMicros(t time.Time) int64 {
	return t.Sub(postgresEpoch).Microseconds()
}

// buildStandbyStatusUpdate renders the 34-byte Standby Status Update
// message body (spec §4.3 "Feedback cadence"): a 'r' tag, three 8-byte
// LSNs (write/flush/apply — this decoder reports the same value for
// all three, since it has no separate apply stage), an 8-byte
// timestamp, and a 1-byte reply-requested flag.
func buildStandbyStatusUpdate(lsn uint64, replyRequested bool) []byte {
	buf := make([]byte, 34)
	buf[0] = 'r'
	binary.BigEndian.PutUint64(buf[1:9], lsn)
	binary.BigEndian.PutUint64(buf[9:17], lsn)
	binary.BigEndian.PutUint64(buf[17:25], lsn)
	binary.BigEndian.PutUint64(buf[25:33], uint64(pgMicros(time.Now())))
	if replyRequested {
		buf[33] = 1
	}
	return buf
}
