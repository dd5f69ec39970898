package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sunethnk/binlog-stream/internal/event"
	"github.com/sunethnk/binlog-stream/internal/sink"
)

// Dispatcher matches each decoded event to its eligible sinks and
// enqueues a deep copy to each (spec §4.8 "Dispatch ordering"/"Deep copy
// on enqueue"). It holds only non-owning references to the Workers the
// Registry created.
type Dispatcher struct {
	workers []*Worker
	log     *zap.Logger
}

// New builds a Dispatcher over the given sink instances, one Worker per
// instance.
func New(instances []*sink.Instance, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	workers := make([]*Worker, len(instances))
	for i, inst := range instances {
		workers[i] = NewWorker(inst, log)
	}
	return &Dispatcher{workers: workers, log: log}
}

// Start starts every sink worker. Sinks that fail to start are logged
// and left out of future dispatch (spec §7).
func (d *Dispatcher) Start(ctx context.Context) {
	var started []*Worker
	for _, w := range d.workers {
		if err := w.Start(ctx); err != nil {
			d.log.Warn("sink start failed, skipping", zap.String("sink", w.Instance().Name), zap.Error(err))
			continue
		}
		started = append(started, w)
	}
	d.workers = started
}

// Dispatch serializes record once and enqueues an independent copy of
// the resulting bytes to every sink whose ShouldPublish predicate
// matches, evaluated before enqueue so events bound for no sink are
// never copied (spec §4.8 "Filtering predicate ... Evaluated in the
// dispatcher, before enqueue, to avoid copying events that will not be
// consumed").
func (d *Dispatcher) Dispatch(record event.Record) error {
	var marshaled []byte
	for _, w := range d.workers {
		if w.Instance().State() != sink.StateStarted {
			continue
		}
		if !w.Instance().ShouldPublish(record.Schema) {
			continue
		}
		if marshaled == nil {
			m, err := record.MarshalJSON()
			if err != nil {
				return fmt.Errorf("dispatch: marshal event: %w", err)
			}
			marshaled = m
		}
		// Deep copy: each sink gets its own backing array, so freeing or
		// mutating the dispatcher's buffer after this call never affects
		// a sink's delivery (IV-2).
		cp := make([]byte, len(marshaled))
		copy(cp, marshaled)
		w.Enqueue(cp)
	}
	return nil
}

// Stop stops every sink worker, one after another, waiting for each
// before moving to the next, matching spec §5's "main thread calls each
// sink's stop". A sink whose stop hook hangs delays the stopping of
// every worker after it.
func (d *Dispatcher) Stop(ctx context.Context) {
	for _, w := range d.workers {
		if err := w.Stop(ctx); err != nil {
			d.log.Warn("sink stop failed", zap.String("sink", w.Instance().Name), zap.Error(err))
		}
	}
}

// Workers exposes the active workers, e.g. for counters/health reporting.
func (d *Dispatcher) Workers() []*Worker { return d.workers }
