// Package sink defines the sink contract of spec §6.3 and ships the
// built-in reference sink kinds that exercise it end to end (spec §6.3
// expansion in SPEC_FULL.md §6).
package sink

import (
	"context"
	"fmt"
)

// Status is the integer status code every contract operation returns,
// mirroring spec §6.3's "all operations return an integer status
// (0 = ok)".
type Status int

const (
	StatusOK Status = 0
	StatusErr Status = 1
)

// Metadata describes a sink kind, returned by Sink.Metadata() before
// init, independent of any particular instance's configuration.
type Metadata struct {
	Name    string
	Version string
}

// Config is the typed-default config value getter the core hands to
// sinks at init, generalizing spec §6.3's "helpers for ... retrieving a
// config value by key with typed defaults" — the core owns the raw
// string map from config.PublisherPlugin.Config and sinks never see the
// parser's own memory (design notes: take ownership at the boundary).
type Config struct {
	values map[string]string
}

// NewConfig copies raw into an owned map so no sink aliases the config
// parser's backing memory (design note: "take ownership at the boundary").
func NewConfig(raw map[string]string) Config {
	cp := make(map[string]string, len(raw))
	for k, v := range raw {
		cp[k] = v
	}
	return Config{values: cp}
}

// String returns values[key], or def if absent.
func (c Config) String(key, def string) string {
	if v, ok := c.values[key]; ok {
		return v
	}
	return def
}

// Sink is the capability abstraction every sink kind implements:
// INIT/START/PUBLISH/STOP/CLEANUP from spec §6.3, modeled per the design
// notes as a statically composed tagged union rather than dlopen.
type Sink interface {
	Metadata() Metadata
	Init(cfg Config) error
	Start(ctx context.Context) error
	Publish(ctx context.Context, eventJSON []byte) Status
	Stop(ctx context.Context) error
	Cleanup() error
}

// HealthChecker is the optional health(handle) hook of spec §6.3.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// BatchPublisher is the optional publish_batch(handle, events) hook of
// spec §6.3.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, eventsJSON [][]byte) Status
}

// Factory constructs a fresh, un-initialized Sink for a given kind name.
type Factory func() Sink

// ErrUnknownKind is returned by Registry.load for an unrecognized plugin name
// (spec §7: "Sink load/init error — log and skip that sink").
var ErrUnknownKind = fmt.Errorf("sink: unknown kind")
