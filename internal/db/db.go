// Package db is the SQLite-backed note store. It implements notes.Store on
// top of the project SQLite driver and publishes a change signal after each
// committed write so observers can re-query.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/imkira/go-observer"

	"github.com/kuitang/glyphnotes/internal/notes"
	"github.com/kuitang/glyphnotes/internal/obs"
)

const (
	// DefaultPath is the default database file.
	DefaultPath = "./data/glyphnotes.db"

	// MaxOpenConns is the maximum number of open connections for a file database.
	// SQLite is single-writer, so high connection counts are counterproductive.
	MaxOpenConns = 4

	// MaxIdleConns is the maximum number of idle connections for a file database.
	MaxIdleConns = 2
)

// Options configures Open.
type Options struct {
	// Path is the database file. Empty opens a private in-memory database.
	Path string
	// Seed inserts the welcome notes when the notes table is created empty.
	Seed bool
	// OpenRetries is the number of ping attempts before giving up. Zero means one.
	OpenRetries uint
	// RetryDelay is the delay between ping attempts.
	RetryDelay time.Duration
}

// Store is a notes.Store backed by SQLite.
type Store struct {
	db      *sql.DB
	changes observer.Property
	version atomic.Int64
	log     *slog.Logger
}

var _ notes.Store = (*Store)(nil)

var memoryDBCounter atomic.Uint64

// Open opens (creating if needed) the database described by opts, applies the
// schema and migrations, and seeds it on first creation when opts.Seed is set.
func Open(ctx context.Context, opts Options) (*Store, error) {
	log := obs.Pkg("db")

	var dsn string
	if opts.Path == "" {
		name := fmt.Sprintf("glyphnotes-%d", memoryDBCounter.Add(1))
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	} else {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = appendSQLiteParams(opts.Path, sqliteCommonParams())
	}

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open notes database: %w", err)
	}

	if opts.Path == "" {
		// A shared-cache memory database lives as long as one connection does.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(MaxOpenConns)
		sqlDB.SetMaxIdleConns(MaxIdleConns)
	}

	attempts := opts.OpenRetries
	if attempts == 0 {
		attempts = 1
	}
	delay := opts.RetryDelay
	if delay == 0 {
		delay = 300 * time.Millisecond
	}
	if err := retry.Do(
		func() error { return sqlDB.PingContext(ctx) },
		retry.Context(ctx),
		retry.Delay(delay),
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			log.Warn("failed ping to notes database", "attempt", attempt, "error", err)
		}),
	); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping notes database: %w", err)
	}

	s := NewFromSQL(sqlDB)
	created, err := s.initSchema(ctx)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	if created && opts.Seed {
		if err := s.seed(ctx); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}

	log.Info("notes database ready", "path", displayPath(opts.Path), "created", created)
	return s, nil
}

// NewFromSQL wraps an existing sql.DB that already has Schema applied.
func NewFromSQL(sqlDB *sql.DB) *Store {
	return &Store{
		db:      sqlDB,
		changes: observer.NewProperty(int64(0)),
		log:     obs.Pkg("db"),
	}
}

// DB returns the underlying sql.DB for direct access when needed.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database. Observers stop once their contexts end.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initSchema reports whether the notes table was created by this call.
func (s *Store) initSchema(ctx context.Context) (bool, error) {
	var existing int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'notes'`,
	).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return false, fmt.Errorf("failed to initialize notes schema: %w", err)
	}
	if existing > 0 {
		if err := s.migrate(ctx); err != nil {
			return false, err
		}
	}
	return existing == 0, nil
}

// migrate applies idempotent schema migrations to an existing database.
// SQLite ADD COLUMN errors if the column exists, so that specific error is ignored.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(Migrations, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Upsert inserts a note that has no id yet, otherwise it replaces the row
// with the same id. It returns the row id.
func (s *Store) Upsert(ctx context.Context, note notes.Note) (int64, error) {
	tags, err := encodeTags(note.Tags)
	if err != nil {
		return 0, err
	}
	category := notes.CategoryOrDefault(note.Category)

	var id int64
	if note.IsPersisted() {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO notes (id, title, content, tags, category, is_pinned, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				content = excluded.content,
				tags = excluded.tags,
				category = excluded.category,
				is_pinned = excluded.is_pinned,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
		`, note.ID, note.Title, note.Content, tags, category, boolToInt(note.IsPinned),
			toMillis(note.CreationDate), toMillis(note.LastEditDate))
		id = note.ID
	} else {
		var res sql.Result
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO notes (title, content, tags, category, is_pinned, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, note.Title, note.Content, tags, category, boolToInt(note.IsPinned),
			toMillis(note.CreationDate), toMillis(note.LastEditDate))
		if err == nil {
			id, err = res.LastInsertId()
		}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to upsert note: %w", err)
	}

	s.publish()
	return id, nil
}

// Delete removes the row with note.ID. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, note notes.Note) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, note.ID); err != nil {
		return fmt.Errorf("failed to delete note %d: %w", note.ID, err)
	}
	s.publish()
	return nil
}

// Get returns notes.ErrNotFound if no row has id.
func (s *Store) Get(ctx context.Context, id int64) (notes.Note, error) {
	row := s.db.QueryRowContext(ctx, selectNotes+` WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notes.Note{}, fmt.Errorf("note %d: %w", id, notes.ErrNotFound)
	}
	if err != nil {
		return notes.Note{}, fmt.Errorf("failed to get note %d: %w", id, err)
	}
	return n, nil
}

// List returns every note, most recently edited first.
func (s *Store) List(ctx context.Context) ([]notes.Note, error) {
	return s.query(ctx, selectNotes+` ORDER BY updated_at DESC, id DESC`)
}

// WithTag returns every note carrying tag, most recently edited first.
func (s *Store) WithTag(ctx context.Context, tag string) ([]notes.Note, error) {
	return s.query(ctx, selectNotes+` WHERE has_tag(tags, ?) ORDER BY updated_at DESC, id DESC`, tag)
}

func (s *Store) mostRecentlyCreated(ctx context.Context) (*notes.Note, error) {
	row := s.db.QueryRowContext(ctx, selectNotes+` ORDER BY id DESC LIMIT 1`)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get most recent note: %w", err)
	}
	return &n, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]notes.Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	list := []notes.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return list, nil
}

// publish bumps the change version; observers re-query on every bump.
func (s *Store) publish() {
	s.changes.Update(s.version.Add(1))
}

const selectNotes = `SELECT id, title, content, tags, category, is_pinned, created_at, updated_at FROM notes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(r rowScanner) (notes.Note, error) {
	var (
		n                  notes.Note
		rawTags            string
		pinned             int64
		createdAt, updated int64
	)
	if err := r.Scan(&n.ID, &n.Title, &n.Content, &rawTags, &n.Category, &pinned, &createdAt, &updated); err != nil {
		return notes.Note{}, err
	}
	tags, err := decodeTags(rawTags)
	if err != nil {
		return notes.Note{}, err
	}
	n.Tags = tags
	n.IsPinned = pinned != 0
	n.CreationDate = fromMillis(createdAt)
	n.LastEditDate = fromMillis(updated)
	return n, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func sqliteCommonParams() string {
	// Production-safe defaults: WAL + NORMAL provides good throughput while preserving safety.
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

func displayPath(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}

func isNotFound(err error) bool {
	return errors.Is(err, notes.ErrNotFound)
}
