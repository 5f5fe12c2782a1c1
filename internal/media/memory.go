package media

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

// Memory keeps blobs in a map. It is used by tests and throwaway dev runs.
type Memory struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	baseURL string
}

// NewMemory creates an empty store whose URLs start with baseURL.
func NewMemory(baseURL string) *Memory {
	return &Memory{blobs: make(map[string][]byte), baseURL: baseURL}
}

// Put copies the upload data under a fresh key.
func (m *Memory) Put(ctx context.Context, prefix string, up *model.Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := NewKey(prefix, up)
	data := make([]byte, len(up.Data))
	copy(data, up.Data)
	m.mu.Lock()
	m.blobs[key] = data
	m.mu.Unlock()
	return key, nil
}

// Delete removes key. A missing key yields ErrNotFound.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(m.blobs, key)
	return nil
}

// Exists reports whether key is stored.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

// URL joins the base URL and key.
func (m *Memory) URL(key string) string {
	return joinURL(m.baseURL, key)
}

// Keys lists the stored keys in order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
