package media

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/store"
)

// Database keeps objects as blobs in the media_blobs table.
type Database struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewDatabase creates a Database provider.
func NewDatabase(db *sql.DB) *Database {
	return &Database{db: db, nowFunc: time.Now}
}

func (d *Database) Kind() Kind { return KindDatabase }

func (d *Database) Upload(ctx context.Context, key string, r io.Reader, contentType string) (Metadata, error) {
	if key == "" {
		return Metadata{}, apperr.Invalid("media: empty key")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("media: reading %q: %w", key, err)
	}

	md := Metadata{Key: key, Size: int64(len(data)), ContentType: contentType, ModTime: d.nowFunc().UTC()}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO media_blobs (key, data, content_type, size, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, content_type = excluded.content_type,
		   size = excluded.size, updated_at = excluded.updated_at`,
		key, data, contentType, md.Size, store.Nanos(md.ModTime))
	if err != nil {
		return Metadata{}, fmt.Errorf("media: storing %q: %w", key, err)
	}

	return md, nil
}

func (d *Database) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	var data []byte

	err := d.db.QueryRowContext(ctx, `SELECT data FROM media_blobs WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(KindDatabase, key)
	}

	if err != nil {
		return nil, fmt.Errorf("media: loading %q: %w", key, err)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (d *Database) Delete(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM media_blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("media: deleting %q: %w", key, err)
	}

	return nil
}

func (d *Database) Exists(ctx context.Context, key string) (bool, error) {
	_, err := d.Metadata(ctx, key)
	if err == nil {
		return true, nil
	}

	if isNotFound(err) {
		return false, nil
	}

	return false, err
}

func (d *Database) Metadata(ctx context.Context, key string) (Metadata, error) {
	var (
		md      = Metadata{Key: key}
		updated int64
	)

	err := d.db.QueryRowContext(ctx,
		`SELECT content_type, size, updated_at FROM media_blobs WHERE key = ?`, key).
		Scan(&md.ContentType, &md.Size, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Metadata{}, notFound(KindDatabase, key)
	}

	if err != nil {
		return Metadata{}, fmt.Errorf("media: stat %q: %w", key, err)
	}

	md.ModTime = store.TimeFromNanos(updated)

	return md, nil
}
