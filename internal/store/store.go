// Package store is the local recipe store: a SQLite database that owns the
// recipe schema and exposes the repository operations used by the CLI and
// the sync engine.
package store

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

	"github.com/jmoiron/sqlx"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/recipevault/internal/recipe"
)

// Store is the sole owner of the recipe database. Every exported operation
// is atomic: multi-row writes run in a single transaction.
type Store struct {
	db      *sqlx.DB
	path    string
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
	closed  atomic.Bool
}

// Open opens (creating if needed) the database at path and applies
// migrations. Any failure matches recipe.ErrStorageUnavailable.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: empty database path: %w", recipe.ErrStorageUnavailable)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: creating directory for %s: %w: %w", path, recipe.ErrStorageUnavailable, err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w: %w", path, recipe.ErrStorageUnavailable, err)
	}

	// Single writer: the repository serializes all access through one
	// connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connecting to %s: %w: %w", path, recipe.ErrStorageUnavailable, err)
	}

	if err := runMigrations(ctx, db.DB, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", recipe.ErrStorageUnavailable, err)
	}

	logger.Info("recipe store opened", slog.String("db_path", path))

	return &Store{
		db:      db,
		path:    path,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Close releases the database. Later calls fail with
// recipe.ErrStorageUnavailable. Closing twice is a no-op.
func (s *Store) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) checkOpen() error {
	if s == nil || s.db == nil || s.closed.Load() {
		return fmt.Errorf("store: database not open: %w", recipe.ErrStorageUnavailable)
	}

	return nil
}

// withTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}

		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback failed", slog.String("error", rbErr.Error()))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: committing transaction: %w", err)
	}

	return nil
}

// Nullable helpers: zero values are stored as NULL.

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

func nullFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: f != 0}
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n)
}

func fromNullNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}

	return fromNanos(n.Int64)
}
