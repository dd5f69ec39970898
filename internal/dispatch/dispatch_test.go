package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunethnk/binlog-stream/internal/event"
	"github.com/sunethnk/binlog-stream/internal/sink"
)

// recordingSink counts publishes and optionally blocks until released,
// to exercise the slow-sink isolation scenario (spec S5).
type recordingSink struct {
	mu        sync.Mutex
	published [][]byte
	block     chan struct{}
}

func (s *recordingSink) Metadata() sink.Metadata { return sink.Metadata{Name: "recording"} }
func (s *recordingSink) Init(sink.Config) error  { return nil }
func (s *recordingSink) Start(context.Context) error { return nil }
func (s *recordingSink) Publish(ctx context.Context, b []byte) sink.Status {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	cp := append([]byte{}, b...)
	s.published = append(s.published, cp)
	s.mu.Unlock()
	return sink.StatusOK
}
func (s *recordingSink) Stop(context.Context) error { return nil }
func (s *recordingSink) Cleanup() error             { return nil }

func (s *recordingSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.published))
	copy(out, s.published)
	return out
}

func newStartedInstance(t *testing.T, impl sink.Sink, schemasAllow []string, depth int) *sink.Instance {
	t.Helper()
	require.NoError(t, impl.Init(sink.NewConfig(nil)))
	return &sink.Instance{Name: "s", Impl: impl, SchemasAllow: schemasAllow, MaxQueueDepth: depth}
}

func TestDispatchDeepCopyPerSink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	instA := newStartedInstance(t, a, nil, 8)
	instB := newStartedInstance(t, b, nil, 8)

	d := New([]*sink.Instance{instA, instB}, nil)
	d.Start(context.Background())
	defer d.Stop(context.Background())

	rec := event.Record{Kind: event.KindInsert, Txn: "t1", Schema: "s", Table: "x"}
	require.NoError(t, d.Dispatch(rec))

	waitFor(t, func() bool { return len(a.snapshot()) == 1 && len(b.snapshot()) == 1 })

	pa := a.snapshot()[0]
	pb := b.snapshot()[0]
	require.Equal(t, pa, pb)

	// Mutate one sink's received buffer; the other sink's copy must be
	// unaffected (IV-2: every sink gets an independent copy).
	pa[0] = 'X'
	assert.NotEqual(t, pa[0], pb[0])
}

func TestDispatchRespectsSchemaAllowList(t *testing.T) {
	onlyShop := &recordingSink{}
	instShop := newStartedInstance(t, onlyShop, []string{"shop"}, 8)

	d := New([]*sink.Instance{instShop}, nil)
	d.Start(context.Background())
	defer d.Stop(context.Background())

	require.NoError(t, d.Dispatch(event.Record{Kind: event.KindInsert, Txn: "t1", Schema: "other"}))
	require.NoError(t, d.Dispatch(event.Record{Kind: event.KindInsert, Txn: "t1", Schema: "shop"}))

	waitFor(t, func() bool { return len(onlyShop.snapshot()) == 1 })
	assert.Len(t, onlyShop.snapshot(), 1, "events for non-allowed schemas must never reach this sink")
}

func TestSlowSinkDoesNotBlockFastSink(t *testing.T) {
	slow := &recordingSink{block: make(chan struct{})}
	fast := &recordingSink{}
	instSlow := newStartedInstance(t, slow, nil, 1)
	instFast := newStartedInstance(t, fast, nil, 8)

	d := New([]*sink.Instance{instSlow, instFast}, nil)
	d.Start(context.Background())
	defer func() {
		close(slow.block)
		d.Stop(context.Background())
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Dispatch(event.Record{Kind: event.KindInsert, Txn: "t", Schema: "s"}))
	}

	waitFor(t, func() bool { return len(fast.snapshot()) == 5 })
	assert.Len(t, fast.snapshot(), 5, "a blocked sink must not stall delivery to other sinks")
}

func TestWorkerDropsOnFullQueueAndCountsIt(t *testing.T) {
	blocked := &recordingSink{block: make(chan struct{})}
	inst := newStartedInstance(t, blocked, nil, 1)
	w := NewWorker(inst, nil)
	require.NoError(t, w.Start(context.Background()))
	defer func() {
		close(blocked.block)
		w.Stop(context.Background())
	}()

	// The first Enqueue is picked up by the worker immediately and blocks
	// inside Publish; fill the 1-deep queue, then overflow it.
	var accepted int64
	for i := 0; i < 10; i++ {
		w.Enqueue([]byte("x"))
		atomic.AddInt64(&accepted, 1)
	}

	waitFor(t, func() bool { return w.Drops() > 0 })
	assert.Greater(t, w.Drops(), int64(0), "overflowing a bounded queue must increment the drop counter")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met before deadline")
	}
}
