// Package events publishes one-way progress notifications from the
// pipeline. Sinks never feed control back into the core; a failed publish
// is logged and dropped.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Phase identifies what the pipeline is doing when an event fires.
type Phase string

const (
	PhaseScan       Phase = "scan"
	PhaseRemediate  Phase = "remediate"
	PhaseCheckpoint Phase = "checkpoint"
	PhaseSession    Phase = "session"
)

// Event is one progress notification.
type Event struct {
	SessionID string    `json:"session_id"`
	Phase     Phase     `json:"phase"`
	Status    string    `json:"status,omitempty"`
	Current   string    `json:"current,omitempty"`
	Total     int       `json:"total,omitempty"`
	Resolved  int       `json:"resolved,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Skipped   int       `json:"skipped,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink consumes progress events.
type Sink interface {
	Publish(ctx context.Context, event Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}

// LogSink writes events to the structured log.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Publish(_ context.Context, event Event) {
	s.Logger.Info("progress",
		zap.String("sessionID", event.SessionID),
		zap.String("phase", string(event.Phase)),
		zap.String("status", event.Status),
		zap.String("current", event.Current),
		zap.Int("total", event.Total),
		zap.Int("resolved", event.Resolved),
		zap.Int("failed", event.Failed),
		zap.Int("skipped", event.Skipped))
}

// NATSSink publishes events to a NATS subject per phase:
// {prefix}.{sessionID}.{phase}.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSSink connects to the NATS server at url.
func NewNATSSink(url, prefix string, logger *zap.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "codesweep"
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSSink{conn: conn, prefix: prefix, logger: logger}, nil
}

func (s *NATSSink) Publish(_ context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to encode event", zap.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%s.%s", s.prefix, event.SessionID, event.Phase)
	if err := s.conn.Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains the connection.
func (s *NATSSink) Close() {
	if err := s.conn.Drain(); err != nil {
		s.logger.Warn("failed to drain NATS connection", zap.Error(err))
	}
}

// Multi fans one event out to several sinks.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, event Event) {
	for _, sink := range m {
		sink.Publish(ctx, event)
	}
}
