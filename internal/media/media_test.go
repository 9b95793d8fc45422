package media

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/store"
)

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()

	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	return string(data)
}

// exerciseProvider runs the round trip every writable provider must pass.
func exerciseProvider(t *testing.T, p Provider) {
	t.Helper()

	ctx := context.Background()

	ok, err := p.Exists(ctx, "songs/a.mp3")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Download(ctx, "songs/a.mp3")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = p.Metadata(ctx, "songs/a.mp3")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	md, err := p.Upload(ctx, "songs/a.mp3", iotest.OneByteReader(strings.NewReader("first")), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "songs/a.mp3", md.Key)
	assert.Equal(t, int64(5), md.Size)

	md, err = p.Upload(ctx, "songs/a.mp3", bytes.NewReader([]byte("second!")), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, int64(7), md.Size)

	ok, err = p.Exists(ctx, "songs/a.mp3")
	require.NoError(t, err)
	assert.True(t, ok)

	md, err = p.Metadata(ctx, "songs/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(7), md.Size)
	assert.Equal(t, "audio/mpeg", md.ContentType)

	rc, err := p.Download(ctx, "songs/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "second!", readAll(t, rc))

	require.NoError(t, p.Delete(ctx, "songs/a.mp3"))
	require.NoError(t, p.Delete(ctx, "songs/a.mp3"), "deleting a missing key is not an error")

	ok, err = p.Exists(ctx, "songs/a.mp3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseLocator(t *testing.T) {
	tests := []struct {
		in      string
		kind    Kind
		key     string
		invalid bool
	}{
		{in: "filesystem:a/b.mp3", kind: KindFilesystem, key: "a/b.mp3"},
		{in: "s3:x:y", kind: KindS3, key: "x:y"},
		{in: "https://cdn.example.com/a.mp3", kind: KindHTTP, key: "https://cdn.example.com/a.mp3"},
		{in: "http://h/a", kind: KindHTTP, key: "http://h/a"},
		{in: "nokind", invalid: true},
		{in: ":key", invalid: true},
		{in: "database:", invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kind, key, err := ParseLocator(tt.in)
			if tt.invalid {
				assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.in, Locator(kind, key))
		})
	}
}

func TestFilesystemProvider(t *testing.T) {
	exerciseProvider(t, NewFilesystem(t.TempDir()))
}

func TestFilesystemProvider_RejectsTraversal(t *testing.T) {
	p := NewFilesystem(t.TempDir())

	for _, key := range []string{"../escape.mp3", "/abs.mp3", "a/../../b", ""} {
		_, err := p.Upload(context.Background(), key, strings.NewReader("x"), "")
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument, key)
	}
}

func TestDatabaseProvider(t *testing.T) {
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	exerciseProvider(t, NewDatabase(db))
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/story.mp3" {
			http.NotFound(w, r)
			return
		}

		assert.Equal(t, "tonies-go-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusOK)

		if r.Method == http.MethodGet {
			io.WriteString(w, "story")
		}
	}))
	defer srv.Close()

	p := NewHTTP(srv.Client(), "tonies-go-test")
	ctx := context.Background()

	rc, err := p.Download(ctx, srv.URL+"/story.mp3")
	require.NoError(t, err)
	assert.Equal(t, "story", readAll(t, rc))

	md, err := p.Metadata(ctx, srv.URL+"/story.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(5), md.Size)
	assert.Equal(t, "audio/mpeg", md.ContentType)

	ok, err := p.Exists(ctx, srv.URL+"/missing.mp3")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Upload(ctx, "x", strings.NewReader("x"), "")
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, p.Delete(ctx, "x"), ErrReadOnly)

	u, err := p.ResolveURL(ctx, srv.URL+"/story.mp3", 0)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/story.mp3", u)
}

func TestRegistry(t *testing.T) {
	fsys := NewFilesystem(t.TempDir())

	_, err := NewRegistry(KindS3, fsys)
	require.Error(t, err)

	reg, err := NewRegistry(KindFilesystem, fsys, NewHTTP(nil, ""))
	require.NoError(t, err)
	assert.Equal(t, KindFilesystem, reg.DefaultKind())

	ctx := context.Background()

	loc, md, err := reg.Store(ctx, "lullaby.mp3", strings.NewReader("zzz"), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "filesystem:lullaby.mp3", loc)
	assert.Equal(t, int64(3), md.Size)

	rc, err := reg.Open(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "zzz", readAll(t, rc))

	_, err = reg.Open(ctx, "gdrive:lullaby.mp3")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = reg.ResolveURL(ctx, loc, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	u, err := reg.ResolveURL(ctx, "https://example.com/a.mp3", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.mp3", u)

	require.NoError(t, reg.Remove(ctx, loc))

	_, err = reg.Open(ctx, loc)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "audio/mpeg", ContentTypeFor("a/B.MP3"))
	assert.Equal(t, "audio/mp4", ContentTypeFor("x.m4a"))
	assert.True(t, IsAudio("song.ogg"))
	assert.False(t, IsAudio("notes.txt"))
	assert.False(t, IsAudio("song.mp3.partial"))
}
