package content

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sanctuary-church/sanctuary-api/internal/media"
	"github.com/sanctuary-church/sanctuary-api/internal/metrics"
	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

// images runs the blob side of the image lifecycle.
type images struct {
	blobs   media.Blobs
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// store saves up below prefix. A nil upload stores nothing and returns "".
func (im *images) store(ctx context.Context, prefix string, up *model.Upload) (string, error) {
	if up == nil {
		return "", nil
	}
	key, err := im.blobs.Put(ctx, prefix, up)
	im.metrics.ObserveBlob("put", err)
	if err != nil {
		im.logger.ErrorContext(ctx, "store image failed", slog.String("prefix", prefix), slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	return key, nil
}

// discard deletes key. Failures are logged and counted but never returned.
func (im *images) discard(ctx context.Context, key string) {
	if key == "" {
		return
	}
	err := im.blobs.Delete(ctx, key)
	im.metrics.ObserveBlob("delete", err)
	if err != nil {
		im.logger.WarnContext(ctx, "delete image failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
