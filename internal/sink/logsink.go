package sink

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes each event as a structured zap log line. It exists
// mainly as the simplest possible reference implementation of the
// contract, useful for local testing of the fan-out engine without any
// external dependency.
type LogSink struct {
	log *zap.Logger
	name string
}

// NewLogSink builds a LogSink; log defaults to a no-op logger if nil.
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Metadata() Metadata { return Metadata{Name: "log", Version: "1"} }

func (s *LogSink) Init(cfg Config) error {
	s.name = cfg.String("name", "log")
	return nil
}

func (s *LogSink) Start(ctx context.Context) error { return nil }

func (s *LogSink) Publish(ctx context.Context, eventJSON []byte) Status {
	s.log.Info("event", zap.String("sink", s.name), zap.ByteString("json", eventJSON))
	return StatusOK
}

func (s *LogSink) Stop(ctx context.Context) error { return nil }

func (s *LogSink) Cleanup() error { return nil }
