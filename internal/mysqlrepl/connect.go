package mysqlrepl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	gmclient "github.com/go-mysql-org/go-mysql/client"
	gmmysql "github.com/go-mysql-org/go-mysql/mysql"

	"github.com/sunethnk/binlog-stream/internal/wire"
)

// comBinlogDump and comRegisterSlave are the MySQL replication protocol
// command bytes (spec §4.2 "Connection setup").
const (
	comRegisterSlave = 0x15
	comBinlogDump    = 0x12
)

// ServerInfo is what the decoder needs to know about the upstream server
// before it can interpret the binlog stream (spec §4.2a).
type ServerInfo struct {
	IsMariaDB       bool
	ChecksumEnabled bool
}

// Connect authenticates to addr using go-mysql-org/go-mysql's client for
// the MySQL handshake (auth negotiation is not part of this decoder's
// remit), then issues the replication dialect negotiation and
// COM_BINLOG_DUMP command by hand, returning a wire.Reader whose frames
// are raw binlog network-stream packets from that point on (spec §4.2:
// decoding the stream itself is this package's job, not the client
// library's).
func Connect(addr, user, password string, serverID uint32, pos gmmysql.Position, info ServerInfo) (*wire.Reader, error) {
	conn, err := gmclient.Connect(addr, user, password, "")
	if err != nil {
		return nil, fmt.Errorf("mysqlrepl: connect: %w", err)
	}

	if err := negotiateDialect(conn, info); err != nil {
		return nil, fmt.Errorf("mysqlrepl: dialect negotiation: %w", err)
	}
	if err := writeRegisterSlave(conn, serverID); err != nil {
		return nil, fmt.Errorf("mysqlrepl: register slave: %w", err)
	}
	if err := writeBinlogDump(conn, serverID, pos); err != nil {
		return nil, fmt.Errorf("mysqlrepl: binlog dump command: %w", err)
	}

	netConn := conn.Conn.Conn
	reader := wire.NewReader(netConn, func(nc net.Conn) (wire.Frame, error) {
		payload, err := conn.ReadPacket()
		if err != nil {
			return wire.Frame{}, err
		}
		return wire.Frame{Payload: payload}, nil
	})
	return reader, nil
}

// negotiateDialect sets the session variables the server needs before
// streaming: MariaDB's slave capability flag unlocks GTID-aware events,
// vanilla MySQL's checksum variable tells the server to start framing
// events with a trailing CRC32 (spec §4.2a).
func negotiateDialect(conn *gmclient.Conn, info ServerInfo) error {
	if info.IsMariaDB {
		_, err := conn.Execute("SET @mariadb_slave_capability=4")
		return err
	}
	_, err := conn.Execute("SET @master_binlog_checksum='CRC32'")
	return err
}

// writeRegisterSlave sends COM_REGISTER_SLAVE, announcing this process
// as a replica so the server lists it in SHOW SLAVE HOSTS and routes
// binlog events to it.
func writeRegisterSlave(conn *gmclient.Conn, serverID uint32) error {
	var buf bytes.Buffer
	buf.WriteByte(comRegisterSlave)
	var id [4]byte
	binary.LittleEndian.PutUint32(id[:], serverID)
	buf.Write(id[:])
	buf.WriteByte(0) // hostname length
	buf.WriteByte(0) // user length
	buf.WriteByte(0) // password length
	var port [2]byte
	buf.Write(port[:])
	var zero4 [4]byte
	buf.Write(zero4[:]) // replication rank, unused
	buf.Write(zero4[:]) // master id, 0 = this master
	return conn.WritePacket(buf.Bytes())
}

// writeBinlogDump sends COM_BINLOG_DUMP with the requested resume
// position, starting the event stream.
func writeBinlogDump(conn *gmclient.Conn, serverID uint32, pos gmmysql.Position) error {
	var buf bytes.Buffer
	buf.WriteByte(comBinlogDump)
	var posBytes [4]byte
	binary.LittleEndian.PutUint32(posBytes[:], pos.Pos)
	buf.Write(posBytes[:])
	var flags [2]byte
	buf.Write(flags[:])
	var idBytes [4]byte
	binary.LittleEndian.PutUint32(idBytes[:], serverID)
	buf.Write(idBytes[:])
	buf.WriteString(pos.Name)
	return conn.WritePacket(buf.Bytes())
}
