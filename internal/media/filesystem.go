package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

const (
	fsDirPerms  = 0o700
	fsFilePerms = 0o600
)

// Filesystem keeps objects as files below a root directory. Keys are
// slash-separated relative paths; anything escaping the root is rejected.
type Filesystem struct {
	root string
}

// NewFilesystem creates a Filesystem provider rooted at dir.
func NewFilesystem(dir string) *Filesystem {
	return &Filesystem{root: dir}
}

func (f *Filesystem) Kind() Kind { return KindFilesystem }

func (f *Filesystem) path(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return "", apperr.Invalid("media: key %q escapes the storage root", key)
	}

	return filepath.Join(f.root, rel), nil
}

// Upload writes to a .partial sibling and renames it into place, so readers
// never see a half-written file.
func (f *Filesystem) Upload(ctx context.Context, key string, r io.Reader, contentType string) (Metadata, error) {
	target, err := f.path(key)
	if err != nil {
		return Metadata{}, err
	}

	if err := os.MkdirAll(filepath.Dir(target), fsDirPerms); err != nil {
		return Metadata{}, fmt.Errorf("media: creating directory for %q: %w", key, err)
	}

	partial := target + ".partial"

	out, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fsFilePerms)
	if err != nil {
		return Metadata{}, fmt.Errorf("media: creating %q: %w", key, err)
	}

	n, copyErr := io.Copy(out, readerWithContext(ctx, r))
	closeErr := out.Close()

	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(partial)
		return Metadata{}, fmt.Errorf("media: writing %q: %w", key, err)
	}

	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)
		return Metadata{}, fmt.Errorf("media: renaming %q into place: %w", key, err)
	}

	md, err := f.Metadata(ctx, key)
	if err != nil {
		return Metadata{}, err
	}

	if contentType != "" {
		md.ContentType = contentType
	}

	md.Size = n

	return md, nil
}

func (f *Filesystem) Download(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(KindFilesystem, key)
	}

	if err != nil {
		return nil, fmt.Errorf("media: opening %q: %w", key, err)
	}

	return file, nil
}

func (f *Filesystem) Delete(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("media: deleting %q: %w", key, err)
	}

	return nil
}

func (f *Filesystem) Exists(ctx context.Context, key string) (bool, error) {
	_, err := f.Metadata(ctx, key)
	if isNotFound(err) {
		return false, nil
	}

	return err == nil, err
}

func (f *Filesystem) Metadata(_ context.Context, key string) (Metadata, error) {
	p, err := f.path(key)
	if err != nil {
		return Metadata{}, err
	}

	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Metadata{}, notFound(KindFilesystem, key)
	}

	if err != nil {
		return Metadata{}, fmt.Errorf("media: stat %q: %w", key, err)
	}

	if info.IsDir() {
		return Metadata{}, notFound(KindFilesystem, key)
	}

	return Metadata{
		Key:         key,
		Size:        info.Size(),
		ContentType: ContentTypeFor(p),
		ModTime:     info.ModTime().UTC(),
	}, nil
}

var audioTypes = map[string]string{
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
}

// ContentTypeFor guesses a MIME type from a file name.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := audioTypes[ext]; ok {
		return ct
	}

	return mime.TypeByExtension(ext)
}

// IsAudio reports whether name has a known audio extension.
func IsAudio(name string) bool {
	_, ok := audioTypes[strings.ToLower(filepath.Ext(name))]
	return ok
}

// readerWithContext stops a copy once ctx is done.
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	return c.r.Read(p)
}
