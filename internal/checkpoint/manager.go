// Package checkpoint implements the single-writer, many-reader resume
// position store of spec §4.6/§6.4, plus the Postgres resume clamp of
// §4.6's "critical correctness rule".
package checkpoint

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	gmmysql "github.com/go-mysql-org/go-mysql/mysql"
	"go.uber.org/zap"

	"github.com/sunethnk/binlog-stream/internal/event"
)

// SaveMode selects when Manager.Record actually writes to disk (spec §4.6).
type SaveMode int

const (
	// SaveEveryEvent writes after every Record call.
	SaveEveryEvent SaveMode = iota
	// SaveEveryN writes once N events have been recorded since the last write.
	SaveEveryN
	// SaveOnCommit writes only when the recorded event is a COMMIT.
	SaveOnCommit
)

// Manager is the single-writer checkpoint store for one source
// connection. Only the decode loop calls Record/Flush; any number of
// other goroutines may call Load concurrently with a running Manager
// (Load takes the same mutex as Record/Flush, so it never reads a file
// this Manager is in the middle of rewriting).
type Manager struct {
	mu   sync.Mutex
	path string
	mode SaveMode
	n    int

	sinceLastSave int
	log           *zap.Logger

	// codec hides the MySQL (file,offset) vs Postgres (lsn) text format
	// difference (spec §6.4).
	codec Codec
}

// Codec converts between a source-specific Position and the checkpoint
// file's text representation.
type Codec interface {
	Encode(pos any) string
	Decode(text string) (any, error)
}

// New builds a Manager that writes path using codec, triggering a write
// per mode/n as described in spec §4.6.
func New(path string, mode SaveMode, n int, codec Codec, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{path: path, mode: mode, n: n, codec: codec, log: log}
}

// Load reads the persisted position from disk at startup. A missing file
// is not an error: it means there is no prior checkpoint.
func (m *Manager) Load() (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: read %s: %w", m.path, err)
	}
	pos, err := m.codec.Decode(strings.TrimRight(string(raw), "\n"))
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: decode %s: %w", m.path, err)
	}
	return pos, true, nil
}

// Record is called after every decoded event. It updates the in-memory
// position and, depending on mode, writes to disk. Checkpoint write
// errors are logged and swallowed (spec §7: "log, continue").
func (m *Manager) Record(pos any, kind event.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sinceLastSave++
	shouldWrite := false
	switch m.mode {
	case SaveEveryEvent:
		shouldWrite = true
	case SaveEveryN:
		shouldWrite = m.sinceLastSave >= m.n
	case SaveOnCommit:
		shouldWrite = kind == event.KindCommit
	}
	if !shouldWrite {
		return
	}
	if err := m.writeLocked(pos); err != nil {
		m.log.Warn("checkpoint write failed", zap.Error(err), zap.String("path", m.path))
		return
	}
	m.sinceLastSave = 0
}

// Flush forces an unconditional write, used on graceful shutdown.
func (m *Manager) Flush(pos any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinceLastSave = 0
	return m.writeLocked(pos)
}

// writeLocked writes the checkpoint file. fsync is not required (spec
// §4.6: "at-least-once from the last persisted position").
func (m *Manager) writeLocked(pos any) error {
	text := m.codec.Encode(pos)
	return os.WriteFile(m.path, []byte(text), 0o644)
}

// MySQLCodec implements Codec for the MySQL two-line `file\noffset\n`
// checkpoint format (spec §6.4).
type MySQLCodec struct{}

func (MySQLCodec) Encode(pos any) string {
	p := pos.(gmmysql.Position)
	return fmt.Sprintf("%s\n%d\n", p.Name, p.Pos)
}

func (MySQLCodec) Decode(text string) (any, error) {
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) < 2 {
		return nil, fmt.Errorf("checkpoint: malformed mysql checkpoint %q", text)
	}
	offset, err := strconv.ParseUint(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: malformed mysql offset: %w", err)
	}
	return gmmysql.Position{Name: strings.TrimSpace(lines[0]), Pos: uint32(offset)}, nil
}

// PostgresCodec implements Codec for the single-line `HI/LO` hex LSN
// checkpoint format (spec §6.4).
type PostgresCodec struct{}

func (PostgresCodec) Encode(pos any) string {
	return FormatLSN(pos.(uint64)) + "\n"
}

func (PostgresCodec) Decode(text string) (any, error) {
	return ParseLSN(strings.TrimSpace(text))
}

// ParseLSN parses Postgres's `HI/LO` hex LSN text form into a uint64.
func ParseLSN(text string) (uint64, error) {
	parts := strings.SplitN(text, "/", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("checkpoint: malformed lsn %q", text)
	}
	hi, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: malformed lsn hi %q: %w", text, err)
	}
	lo, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: malformed lsn lo %q: %w", text, err)
	}
	return hi<<32 | lo, nil
}

// FormatLSN renders a uint64 LSN as Postgres's `HI/LO` hex text form.
func FormatLSN(lsn uint64) string {
	return fmt.Sprintf("%X/%X", lsn>>32, lsn&0xFFFFFFFF)
}

// ConfirmedFlushReader abstracts the Postgres side-channel query needed
// for the resume clamp, so ClampToServer stays unit-testable without a live
// database connection.
type ConfirmedFlushReader interface {
	ConfirmedFlushLSN(ctx context.Context, slotName string) (string, error)
}

// ClampToServer implements the Postgres resume clamp of spec §4.6: the
// start LSN is min(local checkpoint, server confirmed_flush_lsn). If the
// local checkpoint is ahead of the server, the server will not have the
// WAL to replay it; using min avoids both rewinding too far and, more
// importantly, silently skipping changes (IV-5).
func ClampToServer(ctx context.Context, side ConfirmedFlushReader, slotName string, localCheckpoint uint64, haveLocal bool) (uint64, error) {
	serverText, err := side.ConfirmedFlushLSN(ctx, slotName)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: resume clamp: %w", err)
	}
	serverLSN, err := ParseLSN(serverText)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: resume clamp: %w", err)
	}
	if !haveLocal || serverLSN < localCheckpoint {
		return serverLSN, nil
	}
	return localCheckpoint, nil
}
