package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sunethnk/binlog-stream/internal/metrics"
	"github.com/sunethnk/binlog-stream/internal/sink"
)

// Worker owns one sink's bounded queue and the single goroutine that
// drains it, implementing the Loaded -> Started -> Stopped state
// machine of spec §4.8. One slow or failing sink stalls neither any
// other sink nor the decoder (spec §4.8 "per-sink isolation"), because
// Enqueue never blocks and each sink has its own goroutine and mutex.
type Worker struct {
	inst *sink.Instance
	q    *queue
	log  *zap.Logger

	drops  int64
	errs   int64
	dropMu sync.Mutex

	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker builds a Worker for inst, with a queue sized from
// inst.MaxQueueDepth.
func NewWorker(inst *sink.Instance, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		inst: inst,
		q:    newQueue(inst.MaxQueueDepth),
		log:  log,
		done: make(chan struct{}),
	}
}

// Start transitions Loaded -> Started: calls the sink's start hook and
// launches the drain goroutine.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.inst.Impl.Start(ctx); err != nil {
		return err
	}
	w.inst.SetStateStarted()
	go w.run(ctx)
	return nil
}

// Enqueue copies eventJSON into the queue, or drops it and counts the
// drop if the queue is full (spec §4.8 enqueue/IV-3/IV-4). The caller
// must pass an eventJSON slice the dispatcher does not mutate again —
// Worker itself does not copy it a second time, so callers append()ing
// in place would violate IV-2; the dispatcher is responsible for that
// deep copy (see dispatcher.go).
func (w *Worker) Enqueue(eventJSON []byte) {
	if w.inst.State() != sink.StateStarted {
		return
	}
	accepted := w.q.enqueue(item{eventJSON: eventJSON})
	if !accepted {
		w.dropMu.Lock()
		w.drops++
		w.dropMu.Unlock()
		metrics.EventsDropped.WithLabelValues(w.inst.Name).Inc()
		w.log.Warn("sink queue full, dropping event", zap.String("sink", w.inst.Name))
	}
}

// run is the worker loop: dequeue -> publish -> count errors -> repeat,
// exiting once stopped and drained (spec §4.8 "Worker loop").
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		it, ok := w.q.dequeue()
		if !ok {
			return
		}
		status := w.inst.Impl.Publish(ctx, it.eventJSON)
		if status != sink.StatusOK {
			w.dropMu.Lock()
			w.errs++
			w.dropMu.Unlock()
			metrics.PublishErrors.WithLabelValues(w.inst.Name).Inc()
			w.log.Warn("sink publish failed", zap.String("sink", w.inst.Name))
			continue
		}
		metrics.EventsDelivered.WithLabelValues(w.inst.Name).Inc()
	}
}

// Stop transitions Started -> Stopped: signals the queue to drain and
// stop, waits for the worker goroutine to exit, then calls the sink's
// stop hook. Idempotent (spec §4.8).
func (w *Worker) Stop(ctx context.Context) error {
	var err error
	w.stopOnce.Do(func() {
		w.q.stop()
		<-w.done
		w.inst.SetStateStopped()
		err = w.inst.Impl.Stop(ctx)
		if cerr := w.inst.Impl.Cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// Drops returns the number of events dropped on enqueue for this sink
// (IV-4).
func (w *Worker) Drops() int64 {
	w.dropMu.Lock()
	defer w.dropMu.Unlock()
	return w.drops
}

// Errors returns the number of publish() calls that returned non-ok.
func (w *Worker) Errors() int64 {
	w.dropMu.Lock()
	defer w.dropMu.Unlock()
	return w.errs
}

// Instance exposes the underlying sink instance (for ShouldPublish).
func (w *Worker) Instance() *sink.Instance { return w.inst }
