package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

// memTable implements Table using a map guarded by a mutex.
// It's intended for development and testing purposes.
type memTable[T any, P model.Content[T]] struct {
	mu   sync.RWMutex
	seq  int64
	rows map[int64]T
	now  func() time.Time
}

func newMemTable[T any, P model.Content[T]](now func() time.Time) *memTable[T, P] {
	return &memTable[T, P]{rows: make(map[int64]T), now: now}
}

// List returns copies of every row, newest first.
func (m *memTable[T, P]) List(ctx context.Context) ([]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]T, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := P(&out[i]).Metadata(), P(&out[j]).Metadata()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return out, nil
}

func (m *memTable[T, P]) Get(ctx context.Context, id int64) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return row, nil
}

func (m *memTable[T, P]) Insert(ctx context.Context, row T) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	now := m.now()
	meta := P(&row).Metadata()
	meta.ID = m.seq
	meta.CreatedAt = now
	meta.UpdatedAt = now
	P(&row).Attached().ImageURL = nil
	m.rows[meta.ID] = row
	return row, nil
}

// Update runs fn on a copy under the write lock and stores it only if fn
// succeeds, so a failed update leaves the row untouched.
func (m *memTable[T, P]) Update(ctx context.Context, id int64, fn func(*T) error) (T, T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	prev, ok := m.rows[id]
	if !ok {
		return zero, zero, ErrNotFound
	}
	next := prev
	if err := fn(&next); err != nil {
		return zero, zero, err
	}
	meta := P(&next).Metadata()
	meta.ID = id
	meta.CreatedAt = P(&prev).Metadata().CreatedAt
	meta.UpdatedAt = m.now()
	P(&next).Attached().ImageURL = nil
	m.rows[id] = next
	return prev, next, nil
}

// Delete removes the row and returns it.
func (m *memTable[T, P]) Delete(ctx context.Context, id int64) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	delete(m.rows, id)
	return row, nil
}

type memLiveStream struct {
	mu  sync.Mutex
	rec *model.LiveStreamRecord
}

func (m *memLiveStream) init() *model.LiveStreamRecord {
	if m.rec == nil {
		m.rec = &model.LiveStreamRecord{ID: 1}
	}
	return m.rec
}

func (m *memLiveStream) GetOrInit(ctx context.Context) (model.LiveStreamRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.init(), nil
}

func (m *memLiveStream) Update(ctx context.Context, fn func(*model.LiveStreamRecord)) (model.LiveStreamRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.init()
	fn(rec)
	rec.ID = 1
	return *rec, nil
}

type memUsers struct {
	mu      sync.RWMutex
	seq     int64
	byID    map[int64]model.User
	byEmail map[string]int64
	now     func() time.Time
}

// Create stores u, assigning the id. The first-admin decision is taken
// under the same lock as the insert.
func (m *memUsers) Create(ctx context.Context, u model.User, adminIfFirst bool) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, exists := m.byEmail[email]; exists {
		return model.User{}, ErrConflict
	}
	if adminIfFirst && len(m.byID) == 0 {
		u.IsAdmin = true
	}
	m.seq++
	u.ID = m.seq
	u.CreatedAt = m.now()
	m.byID[u.ID] = u
	m.byEmail[email] = u.ID
	return u, nil
}

func (m *memUsers) ByEmail(ctx context.Context, email string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return m.byID[id], nil
}

func (m *memUsers) ByID(ctx context.Context, id int64) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

type memory struct {
	events     *memTable[model.Event, *model.Event]
	posts      *memTable[model.Post, *model.Post]
	news       *memTable[model.News, *model.News]
	ministries *memTable[model.Ministry, *model.Ministry]
	liveStream *memLiveStream
	users      *memUsers
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return newMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

func newMemoryWithClock(now func() time.Time) *memory {
	return &memory{
		events:     newMemTable[model.Event, *model.Event](now),
		posts:      newMemTable[model.Post, *model.Post](now),
		news:       newMemTable[model.News, *model.News](now),
		ministries: newMemTable[model.Ministry, *model.Ministry](now),
		liveStream: &memLiveStream{},
		users:      &memUsers{byID: make(map[int64]model.User), byEmail: make(map[string]int64), now: now},
	}
}

func (m *memory) Events() Table[model.Event]        { return m.events }
func (m *memory) Posts() Table[model.Post]          { return m.posts }
func (m *memory) News() Table[model.News]           { return m.news }
func (m *memory) Ministries() Table[model.Ministry] { return m.ministries }
func (m *memory) LiveStream() LiveStreams           { return m.liveStream }
func (m *memory) Users() Users                      { return m.users }
func (m *memory) Ping(ctx context.Context) error    { return nil }
func (m *memory) Close()                            {}
