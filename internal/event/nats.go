// internal/event/nats.go
// Package event provides NATS JetStream publishing of catalog activity.
// Every activity entry the service records is streamed so that downstream
// consumers (feeds, analytics, audit) can follow the catalog in real time.
package event

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/animeverse/catalog-go/internal/metrics"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/requestid"
	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
)

// Stream and subject layout of the activity stream.
const (
	StreamName    = "CATALOG_ACTIVITY"
	SubjectPrefix = "catalog.activity."
	EventVersion  = "1.0.0"
)

// Publisher defines the event publishing operations required by the catalog service.
type Publisher interface {
	// PublishActivity streams a recorded activity entry.
	PublishActivity(ctx context.Context, a model.Activity) error

	// Close closes the publisher connection
	Close() error
}

// noop is a no-op implementation of Publisher for when NATS is not configured.
type noop struct{}

// NewNoop returns a Publisher that drops every event.
func NewNoop() Publisher { return noop{} }

func (noop) Close() error { return nil }

func (noop) PublishActivity(ctx context.Context, a model.Activity) error { return nil }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc      *nats.Conn            // NATS connection
	js      nats.JetStreamContext // JetStream context for stream operations
	metrics *metrics.Metrics

	mu      sync.Mutex // Guards entropy
	entropy *ulid.MonotonicEntropy
}

// NewPublisher connects to the NATS server at url and ensures the activity stream exists.
// An empty url, or any connection failure, yields a no-op publisher so the service
// keeps working without event streaming.
func NewPublisher(url string, m *metrics.Metrics) Publisher {
	if url == "" {
		return noop{}
	}

	nc, err := nats.Connect(url, nats.Name("catalogd"))
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return noop{}
	}

	if err := initStream(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return noop{}
	}

	return &natsPub{
		nc:      nc,
		js:      js,
		metrics: m,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// initStream creates the activity stream unless it already exists.
func initStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamName); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectPrefix + "*"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Discard:    nats.DiscardOld,
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s stream: %w", StreamName, err)
	}
	return nil
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope for consistency.
type EventEnvelope struct {
	ID            string      `json:"id"`            // ULID, also the JetStream dedup id
	Type          string      `json:"type"`          // Event type identifier
	Version       string      `json:"version"`       // Event schema version
	OccurredAt    time.Time   `json:"occurredAt"`    // When the event occurred
	CorrelationID string      `json:"correlationId"` // Correlation ID of the originating request
	Payload       interface{} `json:"payload"`       // Event-specific data
}

// NewEnvelope wraps an activity entry for publishing.
func NewEnvelope(ctx context.Context, id string, a model.Activity) EventEnvelope {
	occurred := a.CreatedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return EventEnvelope{
		ID:            id,
		Type:          SubjectPrefix + string(a.Type),
		Version:       EventVersion,
		OccurredAt:    occurred,
		CorrelationID: requestid.From(ctx),
		Payload:       a,
	}
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func (p *natsPub) newID(t time.Time) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), p.entropy).String()
}

// PublishActivity publishes an activity event to the activity stream.
// The envelope ID doubles as the Nats-Msg-Id, so a repeated publish of the
// same envelope inside the stream's duplicate window is dropped by the server.
func (p *natsPub) PublishActivity(ctx context.Context, a model.Activity) error {
	start := time.Now()
	env := NewEnvelope(ctx, p.newID(start), a)

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(env.Type, b, nats.MsgId(env.ID), nats.Context(ctx))
	if p.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.EventPublishTotal.WithLabelValues(string(a.Type), status).Inc()
		p.metrics.EventPublishDuration.WithLabelValues(string(a.Type), status).Observe(time.Since(start).Seconds())
	}
	return err
}
