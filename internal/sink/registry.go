package sink

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State is the per-sink-instance lifecycle state of spec §4.7/§4.8.
type State int

const (
	StateLoaded State = iota
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Instance is a loaded, named sink plus its policy, matching spec §3's
// "Sink instance" data model.
type Instance struct {
	Name          string
	Impl          Sink
	SchemasAllow  []string // empty means "all schemas" (spec §4.8 should_publish)
	MaxQueueDepth int

	mu    sync.Mutex
	state State
}

func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = s
}

// SetStateStarted transitions the instance to Started, called by the
// dispatch Worker once the sink's start hook succeeds.
func (i *Instance) SetStateStarted() { i.setState(StateStarted) }

// SetStateStopped transitions the instance to Stopped, called by the
// dispatch Worker once the sink's stop hook has run.
func (i *Instance) SetStateStopped() { i.setState(StateStopped) }

// ShouldPublish implements spec §4.8's should_publish predicate: an
// empty allow-list means "all schemas", otherwise the schema must be a
// member (IV-6).
func (i *Instance) ShouldPublish(schemaName string) bool {
	if len(i.SchemasAllow) == 0 {
		return true
	}
	for _, s := range i.SchemasAllow {
		if s == schemaName {
			return true
		}
	}
	return false
}

// Descriptor is one config-level sink entry to load (spec §6.2
// `publishers[].plugin`).
type Descriptor struct {
	Name           string
	Kind           string // plugin.name selects the Factory
	Active         bool
	MaxQueueDepth  int
	SchemasAllow   []string
	Options        map[string]string
}

const defaultMaxQueueDepth = 1024

// Registry loads sink descriptors from config and owns the resulting
// Instances (spec §4.7). The dispatcher only ever holds a non-owning
// reference obtained via Instances().
type Registry struct {
	log       *zap.Logger
	factories map[string]Factory
	instances []*Instance
}

// NewRegistry builds a Registry with the built-in sink kinds registered:
// "log", "file", "http".
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{log: log, factories: make(map[string]Factory)}
	r.Register("log", func() Sink { return NewLogSink(log) })
	r.Register("file", func() Sink { return NewFileSink() })
	r.Register("http", func() Sink { return NewHTTPSink(log) })
	return r
}

// Register adds or overrides a sink kind's factory.
func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

// Load instantiates and initializes every active descriptor, leaving each
// in StateLoaded; the dispatch worker starts it. A sink load or init
// error is logged and that sink is skipped; other sinks still load
// (spec §7: "Sink load/init error — log and skip that sink").
func (r *Registry) Load(descs []Descriptor) []*Instance {
	for _, d := range descs {
		if !d.Active {
			continue
		}
		inst, err := r.load(d)
		if err != nil {
			r.log.Warn("sink load failed, skipping", zap.String("sink", d.Name), zap.Error(err))
			continue
		}
		r.instances = append(r.instances, inst)
	}
	return r.instances
}

func (r *Registry) load(d Descriptor) (*Instance, error) {
	factory, ok := r.factories[d.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind)
	}
	impl := factory()
	if err := impl.Init(NewConfig(d.Options)); err != nil {
		return nil, fmt.Errorf("sink %q init: %w", d.Name, err)
	}
	maxQueue := d.MaxQueueDepth
	if maxQueue <= 0 {
		maxQueue = defaultMaxQueueDepth
	}
	inst := &Instance{
		Name:          d.Name,
		Impl:          impl,
		SchemasAllow:  d.SchemasAllow,
		MaxQueueDepth: maxQueue,
		state:         StateLoaded,
	}
	return inst, nil
}

// Instances returns the currently loaded sink instances.
func (r *Registry) Instances() []*Instance {
	return r.instances
}
