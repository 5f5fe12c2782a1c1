// Package storage persists content rows, the livestream settings and user
// accounts. PostgreSQL backs production; the in-memory store backs tests and
// dev runs without a database.
package storage

import (
	"context"
	"errors"

	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a row is not found
	ErrConflict = errors.New("conflict")  // Returned when a unique value already exists
)

// Table holds the rows of one content type.
type Table[T any] interface {
	// List returns every row, newest first (created_at DESC, id DESC).
	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, id int64) (T, error)
	// Insert assigns id and timestamps and returns the stored row.
	Insert(ctx context.Context, row T) (T, error)
	// Update locks the row, applies fn to a copy and writes it back. It
	// returns the row as it was before and after the change. When fn fails
	// nothing is written.
	Update(ctx context.Context, id int64, fn func(*T) error) (prev, next T, err error)
	// Delete removes the row and returns it.
	Delete(ctx context.Context, id int64) (T, error)
}

// LiveStreams holds the single livestream settings row.
type LiveStreams interface {
	// GetOrInit returns the row, creating it with defaults on first access.
	GetOrInit(ctx context.Context) (model.LiveStreamRecord, error)
	// Update applies fn to the row, creating it first if needed.
	Update(ctx context.Context, fn func(*model.LiveStreamRecord)) (model.LiveStreamRecord, error)
}

// Users holds dashboard accounts. Emails are unique, compared case-insensitively.
type Users interface {
	// Create inserts u. With adminIfFirst the account also becomes an admin
	// when no other account exists; that check is atomic with the insert.
	Create(ctx context.Context, u model.User, adminIfFirst bool) (model.User, error)
	ByEmail(ctx context.Context, email string) (model.User, error)
	ByID(ctx context.Context, id int64) (model.User, error)
}

// Store interface defines the storage operations required by the API.
// This interface is implemented by both in-memory and PostgreSQL storage backends.
type Store interface {
	Events() Table[model.Event]
	Posts() Table[model.Post]
	News() Table[model.News]
	Ministries() Table[model.Ministry]
	LiveStream() LiveStreams
	Users() Users
	Ping(ctx context.Context) error
	Close()
}
