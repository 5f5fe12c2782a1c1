// internal/event/nats.go
// Package event publishes content change notifications to NATS JetStream so
// that caches and the public site can refresh without polling.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/sanctuary-church/sanctuary-api/internal/metrics"
	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

// Action names a content change.
type Action string

const (
	Created Action = "created"
	Updated Action = "updated"
	Deleted Action = "deleted"
)

// Publisher publishes change events.
type Publisher interface {
	// PublishContentChanged announces a change of one row of resource
	// (events, posts, news, ministries).
	PublishContentChanged(ctx context.Context, resource string, action Action, payload any) error
	// PublishLiveStreamUpdated announces new livestream settings.
	PublishLiveStreamUpdated(ctx context.Context, ls model.LiveStream) error
	// Close closes the publisher connection
	Close() error
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope for consistency.
type EventEnvelope struct {
	Type          string    `json:"type"`          // Event type, equal to the NATS subject
	Version       string    `json:"version"`       // Envelope version (semantic versioning)
	OccurredAt    time.Time `json:"occurredAt"`    // When the change was committed (UTC)
	CorrelationID string    `json:"correlationId"` // Id of the request that caused the change
	Payload       any       `json:"payload"`       // The row or settings as returned by the API
}

type ctxKey struct{}

// WithCorrelationID attaches the request correlation id to ctx so that
// events raised while serving the request carry it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID, or a fresh one.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// ContentSubject is the subject of a content change, e.g.
// sanctuary.content.posts.deleted.
func ContentSubject(resource string, action Action) string {
	return fmt.Sprintf("sanctuary.content.%s.%s", resource, action)
}

// LiveStreamSubject is the subject of livestream updates.
const LiveStreamSubject = "sanctuary.livestream.updated"

// envelope wraps payload for subject, stamping the time and the correlation
// id carried by ctx.
func envelope(ctx context.Context, subject string, payload any) EventEnvelope {
	return EventEnvelope{
		Type:          subject,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: CorrelationID(ctx),
		Payload:       payload,
	}
}

// noop is used when NATS is not configured or unreachable.
type noop struct{}

func (noop) PublishContentChanged(context.Context, string, Action, any) error { return nil }
func (noop) PublishLiveStreamUpdated(context.Context, model.LiveStream) error { return nil }
func (noop) Close() error                                                      { return nil }

// Noop returns a publisher that drops every event.
func Noop() Publisher { return noop{} }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc      *nats.Conn            // NATS connection
	js      nats.JetStreamContext // JetStream context for publishing
	metrics *metrics.Metrics      // publish latency and failures
}

// NewPublisher connects to url and makes sure the streams exist.
// Parameters:
//   - url: NATS server URL; empty disables events
//   - logger: receives a warning when falling back
//
// Returns:
//   - Publisher: the JetStream publisher, or the no-op publisher when url is
//     empty or the connection or stream setup fails
func NewPublisher(url string, logger *slog.Logger) Publisher {
	if url == "" {
		return noop{}
	}

	nc, err := nats.Connect(url, nats.Name("sanctuary-api"))
	if err != nil {
		logger.Warn("NATS connect failed, using noop publisher", "error", err)
		return noop{}
	}
	js, err := nc.JetStream()
	if err != nil {
		logger.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return noop{}
	}
	if err := initStreams(js); err != nil {
		logger.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return noop{}
	}
	return &natsPub{nc: nc, js: js, metrics: metrics.NewMetrics()}
}

// initStreams creates the content and livestream streams if they do not
// exist. Content events are kept for a week; only the last 100 livestream
// updates are kept.
func initStreams(js nats.JetStreamContext) error {
	streams := []*nats.StreamConfig{
		{
			Name:      "SANCTUARY_CONTENT",
			Subjects:  []string{"sanctuary.content.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Discard:   nats.DiscardOld,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "SANCTUARY_LIVESTREAM",
			Subjects:  []string{"sanctuary.livestream.*"},
			Retention: nats.LimitsPolicy,
			MaxMsgs:   100,
			Discard:   nats.DiscardOld,
			Storage:   nats.FileStorage,
		},
	}
	for _, cfg := range streams {
		if _, err := js.StreamInfo(cfg.Name); err == nil {
			continue
		}
		if _, err := js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create %s stream: %w", cfg.Name, err)
		}
	}
	return nil
}

// publish marshals the envelope and publishes it with JetStream. The
// outcome is recorded in the publish metrics.
func (p *natsPub) publish(ctx context.Context, subject string, payload any) (err error) {
	defer func(start time.Time) { p.metrics.ObservePublish(subject, start, err) }(time.Now())

	b, err := json.Marshal(envelope(ctx, subject, payload))
	if err != nil {
		return err
	}
	_, err = p.js.Publish(subject, b, nats.Context(ctx))
	return err
}

// PublishContentChanged publishes to sanctuary.content.<resource>.<action>.
func (p *natsPub) PublishContentChanged(ctx context.Context, resource string, action Action, payload any) error {
	return p.publish(ctx, ContentSubject(resource, action), payload)
}

// PublishLiveStreamUpdated publishes ls to LiveStreamSubject.
func (p *natsPub) PublishLiveStreamUpdated(ctx context.Context, ls model.LiveStream) error {
	return p.publish(ctx, LiveStreamSubject, ls)
}

// Close drains pending publishes and closes the connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		return p.nc.Drain()
	}
	return nil
}

// Recorder keeps published envelopes in memory. Tests use it to assert on
// the events a change raised.
type Recorder struct {
	mu     sync.Mutex
	events []EventEnvelope
}

// record appends the envelope under the lock.
func (r *Recorder) record(ctx context.Context, subject string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, envelope(ctx, subject, payload))
}

// PublishContentChanged records the event. It never fails.
func (r *Recorder) PublishContentChanged(ctx context.Context, resource string, action Action, payload any) error {
	r.record(ctx, ContentSubject(resource, action), payload)
	return nil
}

// PublishLiveStreamUpdated records the event. It never fails.
func (r *Recorder) PublishLiveStreamUpdated(ctx context.Context, ls model.LiveStream) error {
	r.record(ctx, LiveStreamSubject, ls)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Types lists the recorded event types in publication order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Events returns a copy of the recorded envelopes.
func (r *Recorder) Events() []EventEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventEnvelope(nil), r.events...)
}
