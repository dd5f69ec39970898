package sink

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// FileSink appends each event as one line of newline-delimited JSON to a
// file, reopening it when it crosses max_bytes so a long-running process
// doesn't grow one file unbounded (spec §6.3 reference sink).
type FileSink struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	f        *os.File
	written  int64
}

// NewFileSink constructs an un-initialized FileSink.
func NewFileSink() *FileSink { return &FileSink{} }

func (s *FileSink) Metadata() Metadata { return Metadata{Name: "file", Version: "1"} }

func (s *FileSink) Init(cfg Config) error {
	s.path = cfg.String("path", "events.ndjson")
	var maxMB int64
	fmt.Sscanf(cfg.String("max_file_size_mb", "0"), "%d", &maxMB)
	s.maxBytes = maxMB * 1024 * 1024
	return nil
}

func (s *FileSink) Start(ctx context.Context) error {
	return s.openLocked()
}

func (s *FileSink) openLocked() error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sink/file: open %s: %w", s.path, err)
	}
	fi, err := f.Stat()
	if err == nil {
		s.written = fi.Size()
	}
	s.f = f
	return nil
}

func (s *FileSink) Publish(ctx context.Context, eventJSON []byte) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBytes > 0 && s.written >= s.maxBytes {
		if s.f != nil {
			s.f.Close()
		}
		bak := s.path + ".1"
		_ = os.Rename(s.path, bak)
		if err := s.openLocked(); err != nil {
			return StatusErr
		}
	}

	n, err := s.f.Write(append(append([]byte{}, eventJSON...), '\n'))
	if err != nil {
		return StatusErr
	}
	s.written += int64(n)
	return StatusOK
}

func (s *FileSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		return s.f.Sync()
	}
	return nil
}

func (s *FileSink) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}
