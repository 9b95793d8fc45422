package adapter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/media"
	"github.com/tonimelisma/tonies-go/internal/s3post"
	"github.com/tonimelisma/tonies-go/internal/tonies"
	"github.com/tonimelisma/tonies-go/internal/tonies/toniestest"
)

type harness struct {
	cloud   *toniestest.Server
	audio   *httptest.Server
	adapter *httptest.Server
	client  *Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cloud := toniestest.NewServer(t)
	cloud.AddHousehold("hh-1", "Family", "owner")
	cloud.AddHousehold("hh-2", "Grandparents", "member")
	cloud.AddDevice("hh-2", "ct-9", "Whale", toniestest.Chapter{ID: "c1", Title: "Old", File: "f-old"})

	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp3" {
			http.NotFound(w, r)
			return
		}

		io.WriteString(w, "audio of "+r.URL.Path)
	}))
	t.Cleanup(audio.Close)

	tokens := tonies.NewTokenCache(cloud.TokenURL(), tonies.DefaultClientID, http.DefaultClient, 0, slog.Default())
	uploader := s3post.NewUploader(http.DefaultClient, nil, slog.Default(), "test")
	cloudClient := tonies.NewClient(cloud.BaseURL(), http.DefaultClient, tokens, uploader, slog.Default(), "test")

	acct := tonies.Account{Username: toniestest.Username, Password: toniestest.Password}
	srv := httptest.NewServer(NewServer(cloudClient, acct, media.NewHTTP(audio.Client(), "test"), slog.Default()))
	t.Cleanup(srv.Close)

	return &harness{
		cloud:   cloud,
		audio:   audio,
		adapter: srv,
		client:  NewClient(srv.URL+"/", srv.Client(), "test"),
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.client.Health(context.Background()))

	down := NewClient(h.adapter.URL+"/nope", nil, "")
	assert.ErrorIs(t, down.Health(context.Background()), apperr.ErrRemoteProtocol)
}

func TestSync_AppendsEveryTrack(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.Sync(context.Background(), SyncRequest{
		CreativeTonieExternalID: "ct-9",
		Tracks: []Track{
			{Title: "One", SourceURL: h.audio.URL + "/one.mp3"},
			{Title: "Two", SourceURL: h.audio.URL + "/two.mp3"},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.TracksProcessed)

	chapters := h.cloud.Chapters("hh-2", "ct-9")
	require.Len(t, chapters, 3)
	assert.Equal(t, "Old", chapters[0].Title)
	assert.Equal(t, "One", chapters[1].Title)
	assert.Equal(t, "Two", chapters[2].Title)

	data, ok := h.cloud.Uploaded(chapters[2].File)
	require.True(t, ok)
	assert.Equal(t, "audio of /two.mp3", string(data))
}

func TestSync_UnknownDevice(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.Sync(context.Background(), SyncRequest{
		CreativeTonieExternalID: "ct-missing",
		Tracks:                  []Track{{Title: "One", SourceURL: h.audio.URL + "/one.mp3"}},
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.ErrorDetails, "ct-missing")
	assert.Equal(t, 0, h.cloud.UploadRequests())
}

func TestSync_StopsAtFirstFailedTrack(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.Sync(context.Background(), SyncRequest{
		CreativeTonieExternalID: "ct-9",
		Tracks: []Track{
			{Title: "One", SourceURL: h.audio.URL + "/one.mp3"},
			{Title: "Gone", SourceURL: h.audio.URL + "/missing.mp3"},
			{Title: "Three", SourceURL: h.audio.URL + "/three.mp3"},
		},
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 1, resp.TracksProcessed)
	assert.Contains(t, resp.ErrorDetails, "Gone")
	assert.Len(t, h.cloud.Chapters("hh-2", "ct-9"), 2)
}

func TestSync_CloudFailureIsStructured(t *testing.T) {
	h := newHarness(t)
	h.cloud.FailUploads(http.StatusForbidden)

	resp, err := h.client.Sync(context.Background(), SyncRequest{
		CreativeTonieExternalID: "ct-9",
		Tracks:                  []Track{{Title: "One", SourceURL: h.audio.URL + "/one.mp3"}},
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.ErrorDetails, tonies.StageUpload)
	assert.Equal(t, 0, h.cloud.PatchRequests())
}

func TestClientSync_ValidatesBeforeNetwork(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls.Add(1) }))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), "")

	for _, req := range []SyncRequest{
		{},
		{CreativeTonieExternalID: "ct"},
		{CreativeTonieExternalID: "ct", Tracks: []Track{{Title: " ", SourceURL: "http://x"}}},
		{CreativeTonieExternalID: "ct", Tracks: []Track{{Title: "t"}}},
	} {
		_, err := c.Sync(context.Background(), req)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	}

	assert.Equal(t, int32(0), calls.Load())
}

func TestServer_RejectsMalformedBody(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Post(h.adapter.URL+"/sync", "application/json", strings.NewReader(`{"tracks":`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out SyncResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Success)
	assert.Equal(t, "invalid request", out.Message)
}

func TestClientSync_UnstructuredErrorIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client(), "").Sync(context.Background(), SyncRequest{
		CreativeTonieExternalID: "ct",
		Tracks:                  []Track{{Title: "t", SourceURL: "http://x"}},
	})
	require.ErrorIs(t, err, apperr.ErrRemoteProtocol)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestClientSync_Cancelled(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.client.Sync(ctx, SyncRequest{
		CreativeTonieExternalID: "ct-9",
		Tracks:                  []Track{{Title: "t", SourceURL: h.audio.URL + "/a.mp3"}},
	})
	assert.ErrorIs(t, err, apperr.ErrCancelled)
}
