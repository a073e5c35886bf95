// Package events publishes indexing run state transitions.
//
// Events go to NATS subjects of the form:
//
//	ragchat.indexing.{run_id}.{state}
//
// with a JSON-encoded RunEvent body. Subscribers can follow one run with
// ragchat.indexing.{run_id}.> or every failure with ragchat.indexing.*.failed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix prefixes every indexing subject.
const SubjectPrefix = "ragchat.indexing"

// RunEvent is one state transition of an indexing run.
type RunEvent struct {
	RunID string    `json:"run_id"`
	State string    `json:"state"`
	From  string    `json:"from,omitempty"`
	Files []string  `json:"files,omitempty"`
	Count int       `json:"count,omitempty"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// Subject returns the NATS subject for e.
func (e RunEvent) Subject() string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, e.RunID, strings.ToLower(e.State))
}

// Publisher emits run events.
type Publisher interface {
	Publish(ctx context.Context, e RunEvent) error
	Close() error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, RunEvent) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// Config configures event publishing.
type Config struct {
	Enabled bool
	URL     string
}

// NATSPublisher publishes events to NATS core subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	owned  bool
	logger *zap.Logger
}

// New returns a NATS publisher when enabled and a NopPublisher otherwise.
func New(cfg Config, logger *zap.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return NopPublisher{}, nil
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("ragchat"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, logger)
	p.owned = true
	return p, nil
}

// NewNATSPublisher wraps an existing connection. Close does not close nc.
func NewNATSPublisher(nc *nats.Conn, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, logger: logger}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, e RunEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	if err := p.nc.Publish(e.Subject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Subject(), err)
	}
	p.logger.Debug("published run event", zap.String("subject", e.Subject()))
	return nil
}

// Close drains the connection if the publisher opened it.
func (p *NATSPublisher) Close() error {
	if p.owned {
		return p.nc.Drain()
	}
	return nil
}
