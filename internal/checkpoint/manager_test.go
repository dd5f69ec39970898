package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	gmmysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunethnk/binlog-stream/internal/event"
)

func TestMySQLCodecRoundTrip(t *testing.T) {
	var c MySQLCodec
	pos := gmmysql.Position{Name: "binlog.000042", Pos: 98765}
	text := c.Encode(pos)
	decoded, err := c.Decode(text)
	require.NoError(t, err)
	assert.Equal(t, pos, decoded.(gmmysql.Position))
}

func TestLSNRoundTrip(t *testing.T) {
	lsn := uint64(0x16*1<<32 + 0xB374D848)
	text := FormatLSN(lsn)
	back, err := ParseLSN(text)
	require.NoError(t, err)
	assert.Equal(t, lsn, back)
}

func TestManagerLoadMissingFileIsNotError(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "missing.ckpt"), SaveEveryEvent, 0, PostgresCodec{}, nil)
	_, ok, err := m.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerSaveEveryNWritesOnlyEveryNthEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.ckpt")
	m := New(path, SaveEveryN, 3, PostgresCodec{}, nil)

	m.Record(uint64(1), event.KindInsert)
	m.Record(uint64(2), event.KindInsert)
	_, ok, err := m.Load()
	require.NoError(t, err)
	assert.False(t, ok, "file must not exist before the Nth event")

	m.Record(uint64(3), event.KindInsert)
	pos, ok, err := m.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), pos.(uint64))
}

func TestManagerSaveOnCommitIgnoresOtherKinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.ckpt")
	m := New(path, SaveOnCommit, 0, PostgresCodec{}, nil)

	m.Record(uint64(10), event.KindInsert)
	_, ok, _ := m.Load()
	assert.False(t, ok)

	m.Record(uint64(11), event.KindCommit)
	pos, ok, err := m.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(11), pos.(uint64))
}

type fakeConfirmedFlush struct {
	lsn string
	err error
}

func (f fakeConfirmedFlush) ConfirmedFlushLSN(ctx context.Context, slotName string) (string, error) {
	return f.lsn, f.err
}

func TestClampToServerPicksTheLesserPosition(t *testing.T) {
	server := fakeConfirmedFlush{lsn: "0/1000"}
	serverLSN, _ := ParseLSN("0/1000")

	// Local checkpoint is ahead of the server: clamp down to the server's
	// confirmed_flush_lsn (IV-5), never trust a local position the server
	// cannot replay from.
	got, err := ClampToServer(context.Background(), server, "slot1", serverLSN+0x500, true)
	require.NoError(t, err)
	assert.Equal(t, serverLSN, got)

	// Local checkpoint is behind the server: resume from the local value.
	got, err = ClampToServer(context.Background(), server, "slot1", serverLSN-0x10, true)
	require.NoError(t, err)
	assert.Equal(t, serverLSN-0x10, got)

	// No local checkpoint at all: always trust the server.
	got, err = ClampToServer(context.Background(), server, "slot1", 0, false)
	require.NoError(t, err)
	assert.Equal(t, serverLSN, got)
}

func TestClampToServerPropagatesLookupError(t *testing.T) {
	server := fakeConfirmedFlush{err: fmt.Errorf("slot not found")}
	_, err := ClampToServer(context.Background(), server, "slot1", 0, false)
	assert.Error(t, err)
}
