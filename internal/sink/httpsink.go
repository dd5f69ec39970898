package sink

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// HTTPSink POSTs each event's JSON body to a configured URL, retrying
// transient failures internally via go-retryablehttp — per spec §7 the
// core never retries a publish, so any retrying has to live inside the
// sink, and a bounded exponential backoff here is that sink's own policy
// (SPEC_FULL.md §4.10).
type HTTPSink struct {
	client *retryablehttp.Client
	url    string
	log    *zap.Logger
}

// NewHTTPSink builds an un-initialized HTTPSink.
func NewHTTPSink(log *zap.Logger) *HTTPSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPSink{log: log}
}

func (s *HTTPSink) Metadata() Metadata { return Metadata{Name: "http", Version: "1"} }

func (s *HTTPSink) Init(cfg Config) error {
	s.url = cfg.String("url", "")
	if s.url == "" {
		return fmt.Errorf("sink/http: missing required config key %q", "url")
	}
	c := retryablehttp.NewClient()
	c.Logger = nil // the core's own logging replaces go-retryablehttp's default stdlib logger
	c.RetryMax = 3
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	s.client = c
	return nil
}

func (s *HTTPSink) Start(ctx context.Context) error { return nil }

func (s *HTTPSink) Publish(ctx context.Context, eventJSON []byte) Status {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(eventJSON))
	if err != nil {
		s.log.Warn("sink/http: build request failed", zap.Error(err))
		return StatusErr
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("sink/http: publish failed", zap.Error(err), zap.String("url", s.url))
		return StatusErr
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.log.Warn("sink/http: non-2xx response", zap.Int("status", resp.StatusCode), zap.String("url", s.url))
		return StatusErr
	}
	return StatusOK
}

func (s *HTTPSink) Stop(ctx context.Context) error { return nil }

func (s *HTTPSink) Cleanup() error { return nil }
