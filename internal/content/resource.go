// Package content implements list, create, update and delete for the
// image-bearing content types, and show/update of the livestream settings.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sanctuary-church/sanctuary-api/internal/event"
	"github.com/sanctuary-church/sanctuary-api/internal/metrics"
	"github.com/sanctuary-church/sanctuary-api/internal/model"
	"github.com/sanctuary-church/sanctuary-api/internal/storage"
	"github.com/sanctuary-church/sanctuary-api/internal/telemetry"
	"github.com/sanctuary-church/sanctuary-api/internal/validate"
)

// ErrNotFound is returned for ids that match no row.
var ErrNotFound = storage.ErrNotFound

// ErrStorageWrite is returned when the blob store rejects an upload. No row
// is written in that case.
var ErrStorageWrite = errors.New("image could not be stored")

var tracer = telemetry.Tracer("sanctuary-content")

// Resource serves one content type. I is the raw request shape.
type Resource[T any, P model.Content[T], I any] struct {
	name     string // route and blob prefix, e.g. "events"
	table    storage.Table[T]
	validate func(I, validate.Mode) (model.Changes[T], error)
	onCreate func(*T) // fills defaults before insert
	images   *images
	events   event.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Name returns the resource name.
func (r *Resource[T, P, I]) Name() string { return r.name }

// List returns every row, newest first.
func (r *Resource[T, P, I]) List(ctx context.Context) ([]T, error) {
	ctx, span := tracer.Start(ctx, r.name+".list")
	defer span.End()

	rows, err := r.table.List(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list %s: %w", r.name, err)
	}
	for i := range rows {
		r.present(&rows[i])
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}

// Get returns one row.
func (r *Resource[T, P, I]) Get(ctx context.Context, id int64) (T, error) {
	row, err := r.table.Get(ctx, id)
	if err != nil {
		return row, fmt.Errorf("get %s %d: %w", r.name, id, err)
	}
	r.present(&row)
	return row, nil
}

// Create validates in, stores its image if any and inserts the row. If the
// insert fails the stored image is removed again.
func (r *Resource[T, P, I]) Create(ctx context.Context, in I) (T, error) {
	ctx, span := tracer.Start(ctx, r.name+".create")
	defer span.End()

	var zero T
	changes, err := r.validate(in, validate.Create)
	if err != nil {
		r.rejected(validate.Create)
		return zero, err
	}

	var row T
	changes.Apply(&row)
	if r.onCreate != nil {
		r.onCreate(&row)
	}

	key, err := r.images.store(ctx, r.name, changes.Upload())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	if key != "" {
		P(&row).Attached().Image = &key
	}

	created, err := r.table.Insert(ctx, row)
	if err != nil {
		r.images.discard(ctx, key)
		span.SetStatus(codes.Error, err.Error())
		return zero, fmt.Errorf("insert %s: %w", r.name, err)
	}

	r.present(&created)
	span.SetAttributes(attribute.Int64("id", P(&created).Metadata().ID))
	r.publish(ctx, event.Created, created)
	return created, nil
}

// Update applies the fields present in in. A new image replaces the old
// one, which is deleted only after the row points at the new key.
func (r *Resource[T, P, I]) Update(ctx context.Context, id int64, in I) (T, error) {
	ctx, span := tracer.Start(ctx, r.name+".update")
	defer span.End()
	span.SetAttributes(attribute.Int64("id", id))

	var zero T
	if _, err := r.table.Get(ctx, id); err != nil {
		return zero, fmt.Errorf("get %s %d: %w", r.name, id, err)
	}

	changes, err := r.validate(in, validate.Update)
	if err != nil {
		r.rejected(validate.Update)
		return zero, err
	}

	key, err := r.images.store(ctx, r.name, changes.Upload())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	prev, next, err := r.table.Update(ctx, id, func(row *T) error {
		changes.Apply(row)
		if key != "" {
			P(row).Attached().Image = &key
		}
		return nil
	})
	if err != nil {
		r.images.discard(ctx, key)
		span.SetStatus(codes.Error, err.Error())
		return zero, fmt.Errorf("update %s %d: %w", r.name, id, err)
	}

	if key != "" {
		if old := P(&prev).Attached().Image; old != nil && *old != key {
			r.images.discard(ctx, *old)
		}
	}

	r.present(&next)
	r.publish(ctx, event.Updated, next)
	return next, nil
}

// Delete removes the row and then its image. A missing row has no side effects.
func (r *Resource[T, P, I]) Delete(ctx context.Context, id int64) error {
	ctx, span := tracer.Start(ctx, r.name+".delete")
	defer span.End()
	span.SetAttributes(attribute.Int64("id", id))

	deleted, err := r.table.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", r.name, id, err)
	}
	if img := P(&deleted).Attached().Image; img != nil {
		r.images.discard(ctx, *img)
	}

	r.publish(ctx, event.Deleted, P(&deleted).Metadata())
	return nil
}

// present resolves the public image URL of row.
func (r *Resource[T, P, I]) present(row *T) {
	att := P(row).Attached()
	att.ImageURL = nil
	if att.Image != nil {
		u := r.images.blobs.URL(*att.Image)
		att.ImageURL = &u
	}
}

func (r *Resource[T, P, I]) rejected(mode validate.Mode) {
	r.metrics.ValidationFailureTotal.WithLabelValues(r.name, mode.String()).Inc()
}

// publish announces a change. Failures are logged, the change stands.
func (r *Resource[T, P, I]) publish(ctx context.Context, action event.Action, payload any) {
	if err := r.events.PublishContentChanged(ctx, r.name, action, payload); err != nil {
		r.logger.WarnContext(ctx, "publish change event failed",
			slog.String("resource", r.name),
			slog.String("action", string(action)),
			slog.String("error", err.Error()))
	}
}
