// Package store opens the SQLite database shared by credentials, the
// catalog, media blobs and sync jobs, and applies schema migrations.
//
// The returned *sql.DB is limited to one open connection: SQLite allows a
// single writer, and funnelling every statement through one connection
// keeps transactions from tripping over SQLITE_BUSY.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: creating database directory: %w", err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connecting to %s: %w", path, err)
	}

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("database ready", slog.String("path", path))

	return db, nil
}

// migrate applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Setting reads a value from the settings table. ok is false when the key
// has never been written.
func Setting(ctx context.Context, db *sql.DB, key string) (value []byte, ok bool, err error) {
	err = db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("store: reading setting %s: %w", key, err)
	}

	return value, true, nil
}

// PutSetting writes a value to the settings table.
func PutSetting(ctx context.Context, db *sql.DB, key string, value []byte) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: writing setting %s: %w", key, err)
	}

	return nil
}

// SettingOrCreate returns the stored value for key, generating and storing
// one with create on first use. A concurrent first writer wins.
func SettingOrCreate(ctx context.Context, db *sql.DB, key string, create func() ([]byte, error)) ([]byte, error) {
	if value, ok, err := Setting(ctx, db, key); err != nil || ok {
		return value, err
	}

	value, err := create()
	if err != nil {
		return nil, fmt.Errorf("store: generating setting %s: %w", key, err)
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`, key, value); err != nil {
		return nil, fmt.Errorf("store: writing setting %s: %w", key, err)
	}

	stored, _, err := Setting(ctx, db, key)

	return stored, err
}

// Nanos converts t to the integer timestamps stored in every table.
func Nanos(t time.Time) int64 {
	return t.UnixNano()
}

// NullNanos converts an optional timestamp for storage.
func NullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// TimeFromNanos is the inverse of Nanos, in UTC.
func TimeFromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// TimePtr converts a nullable stored timestamp.
func TimePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}

	t := TimeFromNanos(n.Int64)

	return &t
}
