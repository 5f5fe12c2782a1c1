package content

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sanctuary-church/sanctuary-api/internal/event"
	"github.com/sanctuary-church/sanctuary-api/internal/metrics"
	"github.com/sanctuary-church/sanctuary-api/internal/model"
	"github.com/sanctuary-church/sanctuary-api/internal/storage"
	"github.com/sanctuary-church/sanctuary-api/internal/validate"
)

// LiveStream serves the singleton livestream settings. The record exists
// from the first read on and is never deleted.
type LiveStream struct {
	store     storage.LiveStreams
	validator *validate.Engine
	events    event.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Show returns the settings, creating the default record on first access.
func (l *LiveStream) Show(ctx context.Context) (model.LiveStream, error) {
	ctx, span := tracer.Start(ctx, "livestream.show")
	defer span.End()

	rec, err := l.store.GetOrInit(ctx)
	if err != nil {
		return model.LiveStream{}, fmt.Errorf("load livestream: %w", err)
	}
	return rec.External(), nil
}

// Update replaces all three settings fields.
func (l *LiveStream) Update(ctx context.Context, in model.LiveStreamInput) (model.LiveStream, error) {
	ctx, span := tracer.Start(ctx, "livestream.update")
	defer span.End()

	changes, err := l.validator.LiveStream(in)
	if err != nil {
		l.metrics.ValidationFailureTotal.WithLabelValues("livestream", validate.Update.String()).Inc()
		return model.LiveStream{}, err
	}
	span.SetAttributes(attribute.Bool("is_live", changes.IsLive))

	rec, err := l.store.Update(ctx, changes.Apply)
	if err != nil {
		return model.LiveStream{}, fmt.Errorf("update livestream: %w", err)
	}

	ls := rec.External()
	if err := l.events.PublishLiveStreamUpdated(ctx, ls); err != nil {
		l.logger.WarnContext(ctx, "publish livestream event failed", slog.String("error", err.Error()))
	}
	return ls, nil
}
