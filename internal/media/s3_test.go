package media

import (
	"context"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// fakeS3 is a path-style S3 endpoint holding objects in memory. It does not
// check signatures.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	t.Helper()

	f := &fakeS3{objects: make(map[string]fakeObject)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	return f, srv
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}

	return out
}

func (f *fakeS3) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.objects[path] = fakeObject{data: data, contentType: r.Header.Get("Content-Type"), modified: time.Now()}
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		obj, ok := f.objects[path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)

			if r.Method == http.MethodGet {
				io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}

			return
		}

		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		w.Header().Set("Last-Modified", obj.modified.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)

		if r.Method == http.MethodGet {
			w.Write(obj.data)
		}
	case http.MethodDelete:
		delete(f.objects, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3(t *testing.T) (*S3, *fakeS3, *httptest.Server) {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_CA_BUNDLE", "")

	fake, srv := newFakeS3(t)

	p, err := NewS3(context.Background(), S3Options{
		Bucket:          "media",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		Prefix:          "library",
		UsePathStyle:    true,
	}, srv.Client())
	require.NoError(t, err)

	return p, fake, srv
}

func TestS3Provider(t *testing.T) {
	p, fake, _ := newTestS3(t)

	exerciseProvider(t, p)
	assert.Empty(t, fake.keys())
}

func TestS3Provider_KeysLiveUnderPrefix(t *testing.T) {
	p, fake, _ := newTestS3(t)

	_, err := p.Upload(context.Background(), "a.mp3", strings.NewReader("abc"), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, []string{"media/library/a.mp3"}, fake.keys())
}

func TestS3Provider_PresignedURLIsFetchable(t *testing.T) {
	p, _, srv := newTestS3(t)
	ctx := context.Background()

	_, err := p.Upload(ctx, "a.mp3", strings.NewReader("presigned"), "audio/mpeg")
	require.NoError(t, err)

	u, err := p.ResolveURL(ctx, "a.mp3", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, srv.URL+"/media/library/a.mp3?"), u)
	assert.Contains(t, u, "X-Amz-Signature=")
	assert.Contains(t, u, "X-Amz-Expires=60")

	resp, err := srv.Client().Get(u)
	require.NoError(t, err)
	assert.Equal(t, "presigned", readAll(t, resp.Body))
}

func TestNewS3_HonorsCABundle(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))

	tlsSrv := httptest.NewTLSServer(http.NotFoundHandler())
	defer tlsSrv.Close()

	bundle := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(bundle,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: tlsSrv.Certificate().Raw}), 0o600))
	t.Setenv("AWS_CA_BUNDLE", bundle)

	fake, srv := newFakeS3(t)

	p, err := NewS3(context.Background(), S3Options{
		Bucket:          "media",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	}, srv.Client())
	require.NoError(t, err)

	_, err = p.Upload(context.Background(), "a.mp3", strings.NewReader("abc"), "audio/mpeg")
	require.NoError(t, err)
	assert.Len(t, fake.keys(), 1)
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Options{Region: "us-east-1"}, nil)
	assert.Error(t, err)
}
