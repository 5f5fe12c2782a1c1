package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

// Disk keeps blobs below a local directory and serves them over HTTP.
type Disk struct {
	root    string
	baseURL string
}

// NewDisk creates root if needed. baseURL is the prefix under which the
// blobs are served, e.g. /storage.
func NewDisk(root, baseURL string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Disk{root: root, baseURL: baseURL}, nil
}

func (d *Disk) path(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(key))
}

// Put writes the upload to a temporary file and renames it into place.
func (d *Disk) Put(ctx context.Context, prefix string, up *model.Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := NewKey(prefix, up)
	if err := checkKey(key); err != nil {
		return "", err
	}
	dst := d.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(up.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("chmod blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("rename blob: %w", err)
	}
	return key, nil
}

// Delete removes the file of key. A missing file yields ErrNotFound.
func (d *Disk) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := os.Remove(d.path(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// Exists reports whether the file of key is present.
func (d *Disk) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	info, err := os.Stat(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// URL returns baseURL/key; ServeHTTP answers it when mounted under the
// same prefix.
func (d *Disk) URL(key string) string {
	return joinURL(d.baseURL, key)
}

// ServeHTTP serves the blob named by the {key...} path value. Directories
// are never listed.
func (d *Disk) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if checkKey(key) != nil {
		http.NotFound(w, r)
		return
	}
	p := d.path(key)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, p)
}
