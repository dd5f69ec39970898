// Package mysqlrepl decodes the MySQL/MariaDB binlog replication stream
// into canonical event.Records (spec §4.2). It owns no transport: it is
// handed a wire.Reader already positioned at the start of a
// COM_BINLOG_DUMP stream (see connect.go) and a side channel for the
// column-name/enum-label lookups the wire format itself omits.
package mysqlrepl

import (
	"context"
	"fmt"
	"io"
	"strings"

	gmmysql "github.com/go-mysql-org/go-mysql/mysql"
	"go.uber.org/zap"

	"github.com/sunethnk/binlog-stream/internal/capture"
	"github.com/sunethnk/binlog-stream/internal/checkpoint"
	"github.com/sunethnk/binlog-stream/internal/event"
	"github.com/sunethnk/binlog-stream/internal/metrics"
	"github.com/sunethnk/binlog-stream/internal/schema"
	"github.com/sunethnk/binlog-stream/internal/shaper"
	"github.com/sunethnk/binlog-stream/internal/wire"
)

// Sink is the callback the decoder hands every shaped record to; in
// production this is Dispatcher.Dispatch, kept as a function type here
// to avoid an import of the dispatch package from the decoder.
type Sink func(event.Record) error

// Decoder demuxes one MySQL binlog connection's event stream.
type Decoder struct {
	reader *wire.Reader
	side   *schema.MySQLSideChannel
	cache  *schema.Cache
	policy *capture.Policy
	ckpt   *checkpoint.Manager
	sink   Sink
	log    *zap.Logger

	checksumEnabled bool
	currentFile     string
	currentOffset   uint32

	tableMaps   map[uint64]*TableMap
	projections map[uint64]capture.Projection
	currentSchemaName map[uint64]string
	currentTableName  map[uint64]string

	txn event.TxnTracker
}

// New builds a Decoder. startFile is the binlog file name the resume
// position names, used to seed ROTATE bookkeeping before the first
// ROTATE event (if any) is seen.
func New(reader *wire.Reader, side *schema.MySQLSideChannel, cache *schema.Cache,
	policy *capture.Policy, ckpt *checkpoint.Manager, sink Sink, log *zap.Logger,
	checksumEnabled bool, startFile string) *Decoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{
		reader:            reader,
		side:              side,
		cache:             cache,
		policy:            policy,
		ckpt:              ckpt,
		sink:              sink,
		log:               log,
		checksumEnabled:   checksumEnabled,
		currentFile:       startFile,
		tableMaps:         make(map[uint64]*TableMap),
		projections:       make(map[uint64]capture.Projection),
		currentSchemaName: make(map[uint64]string),
		currentTableName:  make(map[uint64]string),
	}
}

// Run drains the binlog stream until ctx is cancelled or the connection
// closes, dispatching one event.Record per decoded row/DDL/commit event
// (spec §5 main loop).
func (d *Decoder) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			d.reader.Stop()
			return nil
		}
		frame, err := d.reader.Next()
		switch {
		case err == wire.ErrStopped, err == io.EOF:
			return nil
		case err != nil:
			return fmt.Errorf("mysqlrepl: read: %w", err)
		}
		if frame.Payload == nil {
			continue // wake tick, nothing periodic to do on the MySQL side
		}
		if err := d.handlePacket(ctx, frame.Payload); err != nil {
			d.log.Warn("mysqlrepl: dropping malformed event", zap.Error(err))
		}
	}
}

func (d *Decoder) handlePacket(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("empty binlog packet")
	}
	marker := payload[0]
	body := payload[1:]
	if marker == 0xff {
		return fmt.Errorf("server returned ERR packet: %q", body)
	}
	return d.handleEventBytes(ctx, body)
}

func (d *Decoder) handleEventBytes(ctx context.Context, raw []byte) error {
	header, rest, err := decodeEventHeader(raw)
	if err != nil {
		return err
	}
	if d.checksumEnabled && len(rest) >= 4 {
		rest = rest[:len(rest)-4]
	}
	// NextPos is the byte offset of the *next* event in this file, the
	// resumable position spec §3 requires alongside the file name. A
	// ROTATE event overrides this with the new file's own position below.
	d.currentOffset = header.NextPos

	switch {
	case header.Type == EventRotate:
		return d.handleRotate(rest)
	case header.Type == EventQuery:
		return d.handleQuery(ctx, rest)
	case header.Type == EventXID:
		return d.handleXID(header)
	case header.Type == EventTableMap:
		return d.handleTableMap(ctx, rest)
	case header.Type.IsRowsEvent():
		return d.handleRows(ctx, header.Type, rest)
	case header.Type == EventMariaCompressed:
		inflated, err := decodeMariaCompressed(rest)
		if err != nil {
			return err
		}
		return d.handleEventBytes(ctx, inflated)
	default:
		return nil // ignorable/unsupported event type
	}
}

func (d *Decoder) handleRotate(body []byte) error {
	c := newCursor(body)
	pos := c.u64()
	name := c.stringEOF()
	if c.err != nil {
		return c.err
	}
	d.currentFile = name
	d.currentOffset = uint32(pos) // position in the *new* file, not the header's own NextPos
	return nil
}

// handleQuery parses a QUERY_EVENT and classifies it as a transaction
// boundary marker or a DDL statement (spec §4.2 "Statement
// classification by leading keyword").
func (d *Decoder) handleQuery(ctx context.Context, body []byte) error {
	c := newCursor(body)
	c.skip(4) // thread id
	c.skip(4) // exec time
	schemaLen := int(c.u8())
	c.skip(2) // error code
	statusVarsLen := int(c.u16())
	c.skip(statusVarsLen)
	schemaName := string(c.bytes(schemaLen))
	c.skip(1) // NUL
	statement := c.stringEOF()
	if c.err != nil {
		return c.err
	}

	keyword := leadingKeyword(statement)
	switch keyword {
	case "BEGIN":
		d.txn.Begin()
		return nil
	case "COMMIT", "ROLLBACK":
		d.txn.End()
		return nil
	}

	if !d.policy.ShouldEmitDDL(schemaName) {
		d.txn.End()
		return nil
	}
	rec := shaper.DDL(d.txn.Current(), schemaName, statement, d.position())
	d.txn.End()
	d.ckpt.Record(d.checkpointPosition(), rec.Kind)
	return d.sink(rec)
}

func leadingKeyword(statement string) string {
	trimmed := strings.TrimSpace(statement)
	end := strings.IndexAny(trimmed, " \t\n;")
	if end < 0 {
		end = len(trimmed)
	}
	return strings.ToUpper(trimmed[:end])
}

// handleXID marks an InnoDB transaction commit.
func (d *Decoder) handleXID(header EventHeader) error {
	rec := shaper.Commit(d.txn.Current(), "", d.position())
	d.txn.End()
	d.ckpt.Record(d.checkpointPosition(), rec.Kind)
	return d.sink(rec)
}

func (d *Decoder) handleTableMap(ctx context.Context, body []byte) error {
	tm, err := decodeTableMap(body)
	if err != nil {
		return err
	}
	d.tableMaps[tm.TableID] = tm
	d.currentSchemaName[tm.TableID] = tm.SchemaName
	d.currentTableName[tm.TableID] = tm.TableName

	if _, ok := d.policy.Table(tm.SchemaName, tm.TableName); !ok {
		return nil // not captured: skip the side-channel round trip entirely
	}

	names, err := d.side.ColumnNames(ctx, tm.SchemaName, tm.TableName)
	if err != nil {
		// Degrade to positional column names instead of losing the table.
		d.log.Warn("mysqlrepl: column name lookup failed, using positional names",
			zap.String("schema", tm.SchemaName), zap.String("table", tm.TableName), zap.Error(err))
		metrics.SchemaLookupErrors.WithLabelValues("mysql").Inc()
		names = nil
	}
	cols := make([]schema.Column, len(tm.ColumnTypes))
	for i, t := range tm.ColumnTypes {
		name := fmt.Sprintf("col_%d", i)
		if i < len(names) {
			name = names[i]
		}
		cols[i] = schema.Column{Name: name, WireType: uint16(t), TypeMeta: tm.ColumnMeta[i]}
	}
	desc := &schema.Descriptor{
		RelationID: tm.TableID,
		SchemaName: tm.SchemaName,
		TableName:  tm.TableName,
		Columns:    cols,
	}
	d.cache.Put(desc)

	tablePolicy, _ := d.policy.Table(tm.SchemaName, tm.TableName)
	d.projections[tm.TableID] = capture.Project(tablePolicy, desc)
	return nil
}

func (d *Decoder) handleRows(ctx context.Context, kind EventType, body []byte) error {
	c := newCursor(body[:6])
	tableID := c.u48()
	tm, ok := d.tableMaps[tableID]
	if !ok {
		return fmt.Errorf("rows event for unknown table id %d (no preceding table map)", tableID)
	}
	schemaName := d.currentSchemaName[tableID]
	tableName := d.currentTableName[tableID]

	tablePolicy, captured := d.policy.Table(schemaName, tableName)
	if !captured || !d.policy.ShouldEmitDML(schemaName) {
		return nil
	}

	proj, ok := d.projections[tableID]
	if !ok {
		proj = capture.Project(tablePolicy, &schema.Descriptor{Columns: wireColumns(tm)})
		d.projections[tableID] = proj
	}

	// The projection must be resolved before decoding: it tells
	// decodeRowsEvent which columns to materialize and which to
	// byte-skip without ever interpreting (spec §3/§4.5).
	rows, err := decodeRowsEvent(kind, body, tm, wantedSet(proj, len(tm.ColumnTypes)))
	if err != nil {
		return err
	}

	for _, r := range rows.Rows {
		if err := d.expandEnumsAndSets(ctx, schemaName, tableName, proj, r.Before); err != nil {
			return fmt.Errorf("expand enum/set labels: %w", err)
		}
		if err := d.expandEnumsAndSets(ctx, schemaName, tableName, proj, r.After); err != nil {
			return fmt.Errorf("expand enum/set labels: %w", err)
		}
	}

	switch {
	case kind.IsWriteRows():
		projected := make([]map[string]any, len(rows.Rows))
		for i, r := range rows.Rows {
			projected[i] = shaper.Project(proj, r.After)
		}
		rec := shaper.InsertOrDelete(event.KindInsert, d.txn.Current(), schemaName, tableName, proj, projected, d.position())
		d.ckpt.Record(d.checkpointPosition(), rec.Kind)
		return d.sink(rec)
	case kind.IsDeleteRows():
		projected := make([]map[string]any, len(rows.Rows))
		for i, r := range rows.Rows {
			projected[i] = shaper.Project(proj, r.Before)
		}
		rec := shaper.InsertOrDelete(event.KindDelete, d.txn.Current(), schemaName, tableName, proj, projected, d.position())
		d.ckpt.Record(d.checkpointPosition(), rec.Kind)
		return d.sink(rec)
	case kind.IsUpdateRows():
		befores := make([]map[string]any, len(rows.Rows))
		afters := make([]map[string]any, len(rows.Rows))
		for i, r := range rows.Rows {
			befores[i] = shaper.Project(proj, r.Before)
			afters[i] = shaper.Project(proj, r.After)
		}
		rec := shaper.Update(d.txn.Current(), schemaName, tableName, proj, befores, afters, d.position())
		d.ckpt.Record(d.checkpointPosition(), rec.Kind)
		return d.sink(rec)
	}
	return nil
}

// wantedSet builds a per-column "must be decoded" mask from proj: a
// column not in proj.Indices lies outside the capture allow-list and
// its bytes are skipped, never decoded (spec §3/§4.5).
func wantedSet(proj capture.Projection, numColumns int) []bool {
	wanted := make([]bool, numColumns)
	for _, idx := range proj.Indices {
		if idx >= 0 && idx < numColumns {
			wanted[idx] = true
		}
	}
	return wanted
}

// expandEnumsAndSets replaces the raw EnumIndex/SetBitmask values
// decodeValue hands back for ENUM/SET columns with their string
// label(s), resolved via the enum cache and, on a miss, the side
// channel (spec §4.2 "expand to label from the enum cache", §4.4).
// Only columns in proj (the ones actually decoded) can appear here.
func (d *Decoder) expandEnumsAndSets(ctx context.Context, schemaName, tableName string, proj capture.Projection, values []any) error {
	if values == nil {
		return nil
	}
	for k, idx := range proj.Indices {
		switch v := values[idx].(type) {
		case EnumIndex:
			label, err := d.enumLabel(ctx, schemaName, tableName, proj.Names[k], uint64(v))
			if err != nil {
				return err
			}
			values[idx] = label
		case SetBitmask:
			label, err := d.setLabel(ctx, schemaName, tableName, proj.Names[k], uint64(v))
			if err != nil {
				return err
			}
			values[idx] = label
		}
	}
	return nil
}

// enumLabels resolves the ordered label list for one ENUM/SET column,
// preferring the cache over a side-channel round trip.
func (d *Decoder) enumLabels(ctx context.Context, schemaName, tableName, column string) ([]string, error) {
	if labels, ok := d.cache.Enums(schemaName, tableName, column); ok {
		return labels, nil
	}
	labels, err := d.side.EnumLabels(ctx, schemaName, tableName, column)
	if err != nil {
		return nil, err
	}
	d.cache.PutEnums(schemaName, tableName, column, labels)
	return labels, nil
}

// enumLabel resolves a single ENUM ordinal. MySQL ENUM ordinals are
// 1-indexed; 0 denotes the invalid empty-string member.
func (d *Decoder) enumLabel(ctx context.Context, schemaName, tableName, column string, ordinal uint64) (string, error) {
	labels, err := d.enumLabels(ctx, schemaName, tableName, column)
	if err != nil {
		return "", err
	}
	if ordinal == 0 || ordinal > uint64(len(labels)) {
		return "", nil
	}
	return labels[ordinal-1], nil
}

// setLabel resolves a SET bitmask to its comma-joined member labels,
// bit i (0-indexed) selecting the i'th declared member.
func (d *Decoder) setLabel(ctx context.Context, schemaName, tableName, column string, bitmask uint64) (string, error) {
	labels, err := d.enumLabels(ctx, schemaName, tableName, column)
	if err != nil {
		return "", err
	}
	var out []string
	for i := 0; i < len(labels) && i < 64; i++ {
		if bitmask&(1<<uint(i)) != 0 {
			out = append(out, labels[i])
		}
	}
	return strings.Join(out, ","), nil
}

func wireColumns(tm *TableMap) []schema.Column {
	cols := make([]schema.Column, len(tm.ColumnTypes))
	for i, t := range tm.ColumnTypes {
		cols[i] = schema.Column{WireType: uint16(t), TypeMeta: tm.ColumnMeta[i]}
	}
	return cols
}

// position renders the decoder's current resume position for the
// human-readable event.Record "position" field (spec §3/§6.5).
func (d *Decoder) position() string {
	return fmt.Sprintf("%s:%d", d.currentFile, d.currentOffset)
}

// checkpointPosition returns the decoder's current (file, offset) pair
// as a go-mysql-org/go-mysql Position value, the concrete type
// checkpoint.MySQLCodec.Encode expects behind its checkpoint.Manager.Record
// any parameter.
func (d *Decoder) checkpointPosition() gmmysql.Position {
	return gmmysql.Position{Name: d.currentFile, Pos: d.currentOffset}
}
