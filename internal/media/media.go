// Package media stores uploaded images. Blobs are addressed by keys of the
// form <prefix>/<ulid><ext> and resolved to public URLs by the driver.
package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

// ErrNotFound is returned when a key does not resolve to a stored blob.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidKey is returned for keys that would escape the store.
var ErrInvalidKey = errors.New("invalid blob key")

// Blobs is a blob store for uploaded images.
type Blobs interface {
	// Put stores the upload under a fresh key below prefix and returns the key.
	Put(ctx context.Context, prefix string, up *model.Upload) (string, error)
	// Delete removes the blob. Missing keys yield ErrNotFound.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key resolves to a stored blob.
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns the public address of key.
	URL(key string) string
}

var extensions = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"webp": ".webp",
}

// NewKey returns a collision-free key for up below prefix. The extension
// follows the detected format, falling back to the client file name.
func NewKey(prefix string, up *model.Upload) string {
	ext, ok := extensions[up.Format]
	if !ok {
		ext = strings.ToLower(filepath.Ext(up.Filename))
	}
	return path.Join(prefix, ulid.Make().String()+ext)
}

// contentType returns the MIME type for the detected format.
func contentType(up *model.Upload) string {
	if up.Format != "" {
		return "image/" + up.Format
	}
	if up.ContentType != "" {
		return up.ContentType
	}
	return "application/octet-stream"
}

// checkKey rejects empty, absolute and non canonical keys.
func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
