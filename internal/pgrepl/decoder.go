package pgrepl

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/sunethnk/binlog-stream/internal/capture"
	"github.com/sunethnk/binlog-stream/internal/checkpoint"
	"github.com/sunethnk/binlog-stream/internal/event"
	"github.com/sunethnk/binlog-stream/internal/schema"
	"github.com/sunethnk/binlog-stream/internal/shaper"
)

// Sink is the callback the decoder hands every shaped record to.
type Sink func(event.Record) error

// feedbackInterval is the minimum spacing between periodic standby status
// updates. Run checks it after each received message; receive blocks
// until the server sends something, so on a stream with no traffic the
// next update waits for the server's next keepalive.
const feedbackInterval = 10 * time.Second

// Decoder demuxes one Postgres logical replication (pgoutput) stream.
type Decoder struct {
	conn   *pgconn.PgConn
	cache  *schema.Cache
	policy *capture.Policy
	ckpt   *checkpoint.Manager
	sink   Sink
	log    *zap.Logger

	relations map[uint32]*Relation
	current   event.TxnTracker
	lastLSN   uint64
	lastSend  time.Time
}

// New builds a Decoder over an already-started replication connection.
func New(conn *pgconn.PgConn, cache *schema.Cache, policy *capture.Policy,
	ckpt *checkpoint.Manager, sink Sink, log *zap.Logger, startLSN uint64) *Decoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{
		conn:      conn,
		cache:     cache,
		policy:    policy,
		ckpt:      ckpt,
		sink:      sink,
		log:       log,
		relations: make(map[uint32]*Relation),
		lastLSN:   startLSN,
	}
}

// Run drains XLogData/keepalive frames until ctx is cancelled,
// dispatching one event.Record per decoded row/commit message and
// sending standby feedback once feedbackInterval has passed since the
// last one (spec §5 main loop; IV-5's clamp itself runs once at
// startup, before Run).
func (d *Decoder) Run(ctx context.Context) error {
	d.lastSend = time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return d.sendFinalFeedback(context.Background())
		}
		payload, err := receive(ctx, d.conn)
		if err != nil {
			return fmt.Errorf("pgrepl: receive: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		switch payload[0] {
		case 'w':
			if err := d.handleXLogData(payload[1:]); err != nil {
				d.log.Warn("pgrepl: dropping malformed message", zap.Error(err))
			}
		case 'k':
			if err := d.handleKeepalive(ctx, payload[1:]); err != nil {
				return err
			}
		default:
			d.log.Warn("pgrepl: unexpected CopyData tag", zap.Uint8("tag", payload[0]))
		}
		if time.Since(d.lastSend) >= feedbackInterval {
			if err := d.sendFeedback(ctx, false); err != nil {
				return err
			}
		}
	}
}

// handleXLogData unwraps the 'w' XLogData envelope (walStart(8) +
// walEnd(8) + serverTime(8) + message) and demuxes the pgoutput message.
func (d *Decoder) handleXLogData(body []byte) error {
	c := newCursor(body)
	walStart := c.u64()
	c.u64() // wal end, informational only
	c.u64() // server send time, informational only
	msg := c.bytes(c.remaining())
	if c.err != nil {
		return c.err
	}
	d.lastLSN = walStart
	return d.handleMessage(msg)
}

// handleKeepalive unwraps the 'k' Primary keepalive envelope (walEnd(8)
// + serverTime(8) + replyRequested(1)) and replies immediately if asked.
func (d *Decoder) handleKeepalive(ctx context.Context, body []byte) error {
	c := newCursor(body)
	walEnd := c.u64()
	c.u64() // server time
	replyRequested := c.u8() != 0
	if c.err != nil {
		return c.err
	}
	d.lastLSN = walEnd
	if replyRequested {
		return d.sendFeedback(ctx, false)
	}
	return nil
}

func (d *Decoder) sendFeedback(ctx context.Context, final bool) error {
	if err := sendFeedback(ctx, d.conn, buildStandbyStatusUpdate(d.lastLSN, false)); err != nil {
		return fmt.Errorf("pgrepl: send feedback: %w", err)
	}
	d.lastSend = time.Now()
	return nil
}

// sendFinalFeedback reports write=flush=apply=current LSN once more on
// graceful shutdown (spec §5: "Postgres sends one last feedback message
// ... before closing").
func (d *Decoder) sendFinalFeedback(ctx context.Context) error {
	return d.sendFeedback(ctx, true)
}

func (d *Decoder) handleMessage(msg []byte) error {
	if len(msg) == 0 {
		return fmt.Errorf("empty pgoutput message")
	}
	kind := MessageKind(msg[0])
	body := msg[1:]
	switch kind {
	case KindBegin:
		d.current.Begin()
		return nil
	case KindCommit:
		rec := shaper.Commit(d.current.Current(), "", d.position())
		d.current.End()
		d.ckpt.Record(d.lastLSN, rec.Kind)
		return d.sink(rec)
	case KindOrigin:
		return nil
	case KindRelation:
		return d.handleRelation(body)
	case KindType:
		return nil
	case KindTruncate:
		return nil // Non-goal: spec does not require TRUNCATE events
	case KindMessage:
		return nil // logical decoding messages (pg_logical_emit_message) are not forwarded
	case KindInsert:
		return d.handleInsert(body)
	case KindUpdate:
		return d.handleUpdate(body)
	case KindDelete:
		return d.handleDelete(body)
	default:
		return fmt.Errorf("unknown message kind %q", kind)
	}
}

func (d *Decoder) handleRelation(body []byte) error {
	rel, err := decodeRelation(body)
	if err != nil {
		return err
	}
	d.relations[rel.RelationID] = rel

	if _, ok := d.policy.Table(rel.Namespace, rel.RelationName); !ok {
		return nil
	}
	cols := make([]schema.Column, len(rel.Columns))
	var pk []string
	for i, c := range rel.Columns {
		cols[i] = schema.Column{Name: c.Name, WireType: uint16(c.TypeOID)}
		if c.IsKey {
			pk = append(pk, c.Name)
		}
	}
	desc := &schema.Descriptor{
		RelationID:        uint64(rel.RelationID),
		SchemaName:        rel.Namespace,
		TableName:         rel.RelationName,
		Columns:           cols,
		PrimaryKeyColumns: pk,
	}
	d.cache.Put(desc)
	return nil
}

func (d *Decoder) relationFor(id uint32) (*Relation, capture.Table, bool) {
	rel, ok := d.relations[id]
	if !ok {
		return nil, capture.Table{}, false
	}
	tbl, captured := d.policy.Table(rel.Namespace, rel.RelationName)
	if !captured || !d.policy.ShouldEmitDML(rel.Namespace) {
		return rel, capture.Table{}, false
	}
	return rel, tbl, true
}

func (d *Decoder) projectionFor(rel *Relation, tbl capture.Table) capture.Projection {
	desc, _ := d.cache.Get(uint64(rel.RelationID))
	if desc == nil {
		cols := make([]schema.Column, len(rel.Columns))
		for i, c := range rel.Columns {
			cols[i] = schema.Column{Name: c.Name, WireType: uint16(c.TypeOID)}
		}
		desc = &schema.Descriptor{Columns: cols}
	}
	return capture.Project(tbl, desc)
}

func (d *Decoder) handleInsert(body []byte) error {
	c := newCursor(body)
	relID := c.u32()
	c.u8() // 'N' tuple marker
	tuple, err := decodeTupleData(c)
	if err != nil {
		return err
	}
	rel, tbl, ok := d.relationFor(relID)
	if !ok {
		return nil
	}
	proj := d.projectionFor(rel, tbl)
	row := shaper.Project(proj, tupleToWireRow(rel, tuple))
	rec := shaper.InsertOrDelete(event.KindInsert, d.current.Current(), rel.Namespace, rel.RelationName, proj, []map[string]any{row}, d.position())
	d.ckpt.Record(d.lastLSN, rec.Kind)
	return d.sink(rec)
}

func (d *Decoder) handleDelete(body []byte) error {
	c := newCursor(body)
	relID := c.u32()
	marker := c.u8() // 'K' (key only) or 'O' (old full row, REPLICA IDENTITY FULL)
	tuple, err := decodeTupleData(c)
	if err != nil {
		return err
	}
	rel, tbl, ok := d.relationFor(relID)
	if !ok {
		return nil
	}
	_ = marker
	proj := d.projectionFor(rel, tbl)
	row := shaper.Project(proj, tupleToWireRow(rel, tuple))
	rec := shaper.InsertOrDelete(event.KindDelete, d.current.Current(), rel.Namespace, rel.RelationName, proj, []map[string]any{row}, d.position())
	d.ckpt.Record(d.lastLSN, rec.Kind)
	return d.sink(rec)
}

func (d *Decoder) handleUpdate(body []byte) error {
	c := newCursor(body)
	relID := c.u32()
	marker := c.u8()

	var before []any
	rel, tbl, ok := d.relationFor(relID)
	if marker == 'K' || marker == 'O' {
		oldTuple, err := decodeTupleData(c)
		if err != nil {
			return err
		}
		if ok {
			before = tupleToWireRow(rel, oldTuple)
		}
		marker = c.u8() // the 'N' marker for the new tuple follows
	}
	newTuple, err := decodeTupleData(c)
	if err != nil {
		return err
	}
	if c.err != nil {
		return c.err
	}
	if !ok {
		return nil
	}

	proj := d.projectionFor(rel, tbl)
	var beforeRow map[string]any
	if before != nil {
		beforeRow = shaper.Project(proj, before)
	}
	afterRow := shaper.Project(proj, tupleToWireRow(rel, newTuple))
	rec := shaper.Update(d.current.Current(), rel.Namespace, rel.RelationName, proj,
		[]map[string]any{beforeRow}, []map[string]any{afterRow}, d.position())
	d.ckpt.Record(d.lastLSN, rec.Kind)
	return d.sink(rec)
}

func (d *Decoder) position() string {
	return checkpoint.FormatLSN(d.lastLSN)
}
