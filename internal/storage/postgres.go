// internal/storage/postgres.go
// PostgreSQL implementation of the Store interface, used in production.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sanctuary-church/sanctuary-api/internal/metrics"
	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

// postgres stores every content type in its own table behind one pgx pool.
// The live_stream table holds a single row with id 1.
type postgres struct {
	db         *pgxpool.Pool
	events     *pgTable[model.Event, *model.Event]
	posts      *pgTable[model.Post, *model.Post]
	news       *pgTable[model.News, *model.News]
	ministries *pgTable[model.Ministry, *model.Ministry]
	liveStream *pgLiveStream
	users      *pgUsers
}

// NewPostgres connects to the database and creates missing tables.
// Parameters:
//   - ctx: bounds the connect and schema steps (capped at 10 seconds)
//   - dsn: PostgreSQL connection string
//
// Returns:
//   - Store: the PostgreSQL backed store
//   - error: a parse, connect, ping or schema failure
func NewPostgres(ctx context.Context, dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Storage latency is recorded per table and operation.
	m := metrics.NewMetrics()
	return &postgres{
		db:         pool,
		events:     &pgTable[model.Event, *model.Event]{db: pool, cols: eventColumns, metrics: m},
		posts:      &pgTable[model.Post, *model.Post]{db: pool, cols: postColumns, metrics: m},
		news:       &pgTable[model.News, *model.News]{db: pool, cols: newsColumns, metrics: m},
		ministries: &pgTable[model.Ministry, *model.Ministry]{db: pool, cols: ministryColumns, metrics: m},
		liveStream: &pgLiveStream{db: pool, metrics: m},
		users:      &pgUsers{db: pool, metrics: m},
	}, nil
}

// initSchema creates all required tables and indexes if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
		    id BIGSERIAL PRIMARY KEY,
		    title TEXT NOT NULL,
		    "date" INTEGER NOT NULL CHECK ("date" BETWEEN 1 AND 31),
		    "month" TEXT NOT NULL,
		    "time" TEXT NOT NULL,
		    location TEXT NOT NULL,
		    image TEXT,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS posts (
		    id BIGSERIAL PRIMARY KEY,
		    title TEXT NOT NULL,
		    category TEXT NOT NULL,
		    "date" TEXT NOT NULL,                    -- YYYY-MM-DD
		    author TEXT NOT NULL,
		    description TEXT NOT NULL,
		    image TEXT,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS news (
		    id BIGSERIAL PRIMARY KEY,
		    title TEXT NOT NULL,
		    category TEXT NOT NULL,
		    "date" TEXT NOT NULL,                    -- YYYY-MM-DD
		    description TEXT NOT NULL,
		    image TEXT,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_news_created_at ON news(created_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS ministries (
		    id BIGSERIAL PRIMARY KEY,
		    title TEXT NOT NULL,
		    description TEXT NOT NULL,
		    image TEXT,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ministries_created_at ON ministries(created_at DESC, id DESC);

		-- Single settings row, no timestamps
		CREATE TABLE IF NOT EXISTS live_stream (
		    id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		    is_live BOOLEAN NOT NULL DEFAULT FALSE,
		    title TEXT NOT NULL DEFAULT '',
		    video_url TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS users (
		    id BIGSERIAL PRIMARY KEY,
		    name TEXT NOT NULL,
		    email TEXT NOT NULL,
		    password_hash TEXT NOT NULL,
		    is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(lower(email));
	`
	_, err := db.Exec(ctx, schema)
	return err
}

func (p *postgres) Events() Table[model.Event]        { return p.events }
func (p *postgres) Posts() Table[model.Post]          { return p.posts }
func (p *postgres) News() Table[model.News]           { return p.news }
func (p *postgres) Ministries() Table[model.Ministry] { return p.ministries }
func (p *postgres) LiveStream() LiveStreams           { return p.liveStream }
func (p *postgres) Users() Users                      { return p.users }

// Ping reports whether the pool can reach the database. Used by /readyz.
func (p *postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Close closes the connection pool.
func (p *postgres) Close() {
	p.db.Close()
}

// columns describes the type specific columns of a content table.
type columns[T any] struct {
	table  string
	names  []string
	fields func(*T) []any // pointers into the row, in names order
}

var eventColumns = columns[model.Event]{
	table: "events",
	names: []string{"title", "date", "month", "time", "location"},
	fields: func(e *model.Event) []any {
		return []any{&e.Title, &e.Date, &e.Month, &e.Time, &e.Location}
	},
}

var postColumns = columns[model.Post]{
	table: "posts",
	names: []string{"title", "category", "date", "author", "description"},
	fields: func(p *model.Post) []any {
		return []any{&p.Title, &p.Category, &p.Date, &p.Author, &p.Description}
	},
}

var newsColumns = columns[model.News]{
	table: "news",
	names: []string{"title", "category", "date", "description"},
	fields: func(n *model.News) []any {
		return []any{&n.Title, &n.Category, &n.Date, &n.Description}
	},
}

var ministryColumns = columns[model.Ministry]{
	table: "ministries",
	names: []string{"title", "description"},
	fields: func(m *model.Ministry) []any {
		return []any{&m.Title, &m.Description}
	},
}

// quoted returns the column names sanitized as SQL identifiers. date, month
// and time are reserved words.
func (c columns[T]) quoted() []string {
	out := make([]string, len(c.names))
	for i, n := range c.names {
		out[i] = pgx.Identifier{n}.Sanitize()
	}
	return out
}

// selectList is the column list scan expects.
func (c columns[T]) selectList() string {
	return "id, created_at, updated_at, image, " + strings.Join(c.quoted(), ", ")
}

// pgTable implements Table for one content type.
type pgTable[T any, P model.Content[T]] struct {
	db      *pgxpool.Pool
	cols    columns[T]
	metrics *metrics.Metrics
}

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scan reads one row in selectList order. pgx.ErrNoRows becomes ErrNotFound.
func (t *pgTable[T, P]) scan(s scanner) (T, error) {
	var row T
	meta, att := P(&row).Metadata(), P(&row).Attached()
	dest := append([]any{&meta.ID, &meta.CreatedAt, &meta.UpdatedAt, &att.Image}, t.cols.fields(&row)...)
	if err := s.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return row, ErrNotFound
		}
		return row, err
	}
	return row, nil
}

// List returns every row, newest first. An empty table yields an empty
// slice rather than nil.
func (t *pgTable[T, P]) List(ctx context.Context) (_ []T, err error) {
	defer func(start time.Time) { t.metrics.ObserveStorage(t.cols.table, "list", start, err) }(time.Now())

	rows, err := t.db.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY created_at DESC, id DESC", t.cols.selectList(), t.cols.table))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t.cols.table, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		row, err := t.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.cols.table, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Get retrieves a row by id.
func (t *pgTable[T, P]) Get(ctx context.Context, id int64) (_ T, err error) {
	defer func(start time.Time) { t.metrics.ObserveStorage(t.cols.table, "get", start, err) }(time.Now())

	return t.scan(t.db.QueryRow(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = $1", t.cols.selectList(), t.cols.table), id))
}

// Insert writes row and returns it with the generated id and timestamps.
func (t *pgTable[T, P]) Insert(ctx context.Context, row T) (_ T, err error) {
	defer func(start time.Time) { t.metrics.ObserveStorage(t.cols.table, "insert", start, err) }(time.Now())

	names := append([]string{"image"}, t.cols.quoted()...)
	args := append([]any{P(&row).Attached().Image}, t.cols.fields(&row)...)
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id, created_at, updated_at",
		t.cols.table, strings.Join(names, ", "), strings.Join(placeholders, ", "))

	meta := P(&row).Metadata()
	if err := t.db.QueryRow(ctx, query, args...).Scan(&meta.ID, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
		return row, fmt.Errorf("insert %s: %w", t.cols.table, err)
	}
	P(&row).Attached().ImageURL = nil
	return row, nil
}

// Update locks the row with SELECT ... FOR UPDATE, applies fn and commits.
// prev is the row as the transaction saw it, so the caller deletes exactly
// the image this update replaced.
// Returns:
//   - prev: the row before fn ran
//   - next: the row as written
//   - error: ErrNotFound, an error from fn, or a database failure
func (t *pgTable[T, P]) Update(ctx context.Context, id int64, fn func(*T) error) (prev, next T, err error) {
	defer func(start time.Time) { t.metrics.ObserveStorage(t.cols.table, "update", start, err) }(time.Now())

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return prev, next, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	prev, err = t.scan(tx.QueryRow(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = $1 FOR UPDATE", t.cols.selectList(), t.cols.table), id))
	if err != nil {
		return prev, next, err
	}
	next = prev
	if err := fn(&next); err != nil {
		return prev, next, err
	}

	sets := []string{"image = $2", "updated_at = NOW()"}
	for i, name := range t.cols.quoted() {
		sets = append(sets, fmt.Sprintf("%s = $%d", name, i+3))
	}
	args := append([]any{id, P(&next).Attached().Image}, t.cols.fields(&next)...)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $1 RETURNING updated_at", t.cols.table, strings.Join(sets, ", "))
	meta := P(&next).Metadata()
	if err := tx.QueryRow(ctx, query, args...).Scan(&meta.UpdatedAt); err != nil {
		return prev, next, fmt.Errorf("update %s: %w", t.cols.table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return prev, next, fmt.Errorf("commit: %w", err)
	}
	P(&next).Attached().ImageURL = nil
	return prev, next, nil
}

// Delete removes the row and returns it so the caller can release its image.
func (t *pgTable[T, P]) Delete(ctx context.Context, id int64) (_ T, err error) {
	defer func(start time.Time) { t.metrics.ObserveStorage(t.cols.table, "delete", start, err) }(time.Now())

	return t.scan(t.db.QueryRow(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE id = $1 RETURNING %s", t.cols.table, t.cols.selectList()), id))
}

// pgLiveStream implements LiveStreams on the single row live_stream table.
type pgLiveStream struct {
	db      *pgxpool.Pool
	metrics *metrics.Metrics
}

const (
	liveStreamInit   = `INSERT INTO live_stream (id) VALUES (1) ON CONFLICT (id) DO NOTHING`
	liveStreamSelect = `SELECT id, is_live, title, video_url FROM live_stream WHERE id = 1`
)

// GetOrInit returns the settings row, inserting the defaults on first access.
// Concurrent first calls both land on the same row through ON CONFLICT.
func (p *pgLiveStream) GetOrInit(ctx context.Context) (rec model.LiveStreamRecord, err error) {
	defer func(start time.Time) { p.metrics.ObserveStorage("live_stream", "get", start, err) }(time.Now())

	if _, err := p.db.Exec(ctx, liveStreamInit); err != nil {
		return rec, fmt.Errorf("init live_stream: %w", err)
	}
	err = p.db.QueryRow(ctx, liveStreamSelect).Scan(&rec.ID, &rec.IsLive, &rec.Title, &rec.VideoURL)
	return rec, err
}

// Update applies fn to the settings row inside one transaction.
func (p *pgLiveStream) Update(ctx context.Context, fn func(*model.LiveStreamRecord)) (rec model.LiveStreamRecord, err error) {
	defer func(start time.Time) { p.metrics.ObserveStorage("live_stream", "update", start, err) }(time.Now())

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return rec, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, liveStreamInit); err != nil {
		return rec, fmt.Errorf("init live_stream: %w", err)
	}
	if err := tx.QueryRow(ctx, liveStreamSelect+" FOR UPDATE").Scan(&rec.ID, &rec.IsLive, &rec.Title, &rec.VideoURL); err != nil {
		return rec, err
	}
	fn(&rec)
	if _, err := tx.Exec(ctx,
		`UPDATE live_stream SET is_live = $1, title = $2, video_url = $3 WHERE id = 1`,
		rec.IsLive, rec.Title, rec.VideoURL); err != nil {
		return rec, fmt.Errorf("update live_stream: %w", err)
	}
	rec.ID = 1
	return rec, tx.Commit(ctx)
}

// pgUsers implements Users. Email uniqueness is enforced by the
// idx_users_email index on lower(email).
type pgUsers struct {
	db      *pgxpool.Pool
	metrics *metrics.Metrics
}

const userSelect = `SELECT id, name, email, password_hash, is_admin, created_at FROM users`

func scanUser(s scanner) (model.User, error) {
	var u model.User
	err := s.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

// Create inserts u. When adminIfFirst is set and the table is empty the
// account is made an admin; the decision and the insert run in one
// transaction holding a SHARE ROW EXCLUSIVE lock, so two concurrent first
// registrations cannot both see an empty table.
// Returns:
//   - model.User: u with id, created_at and the effective is_admin
//   - error: ErrConflict for a taken email, or a database failure
func (p *pgUsers) Create(ctx context.Context, u model.User, adminIfFirst bool) (_ model.User, err error) {
	defer func(start time.Time) { p.metrics.ObserveStorage("users", "insert", start, err) }(time.Now())

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return u, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if adminIfFirst {
		if _, err := tx.Exec(ctx, `LOCK TABLE users IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return u, fmt.Errorf("lock users: %w", err)
		}
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash, is_admin)
		 SELECT $1, $2, $3, $4 OR ($5 AND NOT EXISTS (SELECT 1 FROM users))
		 RETURNING id, is_admin, created_at`,
		u.Name, u.Email, u.PasswordHash, u.IsAdmin, adminIfFirst,
	).Scan(&u.ID, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return u, ErrConflict
		}
		return u, fmt.Errorf("insert user: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return u, fmt.Errorf("commit: %w", err)
	}
	return u, nil
}

// ByEmail looks an account up case-insensitively.
func (p *pgUsers) ByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(p.db.QueryRow(ctx, userSelect+` WHERE lower(email) = lower($1)`, email))
}

// ByID retrieves an account by id.
func (p *pgUsers) ByID(ctx context.Context, id int64) (model.User, error) {
	return scanUser(p.db.QueryRow(ctx, userSelect+` WHERE id = $1`, id))
}
