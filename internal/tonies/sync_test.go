package tonies

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/s3post"
	"github.com/tonimelisma/tonies-go/internal/tonies/toniestest"
)

// newCloudClient wires a real TokenCache and Uploader to a fake cloud.
func newCloudClient(t *testing.T, cloud *toniestest.Server) (*Client, *TokenCache) {
	t.Helper()

	cache := NewTokenCache(cloud.TokenURL(), DefaultClientID, http.DefaultClient, 0, slog.Default())
	uploader := s3post.NewUploader(http.DefaultClient, nil, slog.Default(), "test-agent")

	c := NewClient(cloud.BaseURL(), http.DefaultClient, cache, uploader, slog.Default(), "test-agent")
	c.sleepFunc = noopSleep

	return c, cache
}

func TestListHouseholds(t *testing.T) {
	cloud := toniestest.NewServer(t)
	client, _ := newCloudClient(t, cloud)

	households, err := client.ListHouseholds(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Empty(t, households)

	cloud.AddHousehold("h1", "Home", "owner")
	cloud.AddHousehold("h2", "Grandma", "member")

	households, err = client.ListHouseholds(context.Background(), testAccount)
	require.NoError(t, err)
	require.Len(t, households, 2)
	assert.Equal(t, Household{ID: "h1", Name: "Home", Access: "owner"}, households[0])
	assert.Equal(t, "member", households[1].Access)
}

func TestListDevices(t *testing.T) {
	cloud := toniestest.NewServer(t)
	cloud.AddHousehold("h1", "Home", "owner")
	cloud.AddDevice("h1", "t1", "Elli")
	cloud.AddDevice("h1", "t2", "Max")

	client, _ := newCloudClient(t, cloud)

	devices, err := client.ListDevices(context.Background(), testAccount, "h1")
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "Elli", devices[0].Name)
	assert.Equal(t, "h1", devices[1].HouseholdID)
}

func TestListDevices_RequiresHousehold(t *testing.T) {
	cloud := toniestest.NewServer(t)
	client, _ := newCloudClient(t, cloud)

	_, err := client.ListDevices(context.Background(), testAccount, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.Equal(t, 0, cloud.APIRequests())
}

func TestDeviceDetail(t *testing.T) {
	cloud := toniestest.NewServer(t)
	cloud.AddHousehold("h1", "Home", "owner")
	cloud.AddDevice("h1", "t1", "Elli", toniestest.Chapter{ID: "c1", Title: "Intro", File: "f1"})

	client, _ := newCloudClient(t, cloud)

	dev, err := client.DeviceDetail(context.Background(), testAccount, "h1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Elli", dev.Name)
	assert.Equal(t, 1, dev.ChaptersPresent)
	assert.Equal(t, 98, dev.ChaptersRemaining)
	require.Len(t, dev.Chapters, 1)
	assert.Equal(t, Chapter{ID: "c1", Title: "Intro", File: "f1"}, dev.Chapters[0])
}

func TestDeviceDetail_NotFound(t *testing.T) {
	cloud := toniestest.NewServer(t)
	cloud.AddHousehold("h1", "Home", "owner")

	client, _ := newCloudClient(t, cloud)

	_, err := client.DeviceDetail(context.Background(), testAccount, "h1", "gone")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NotErrorIs(t, err, apperr.ErrRemoteProtocol)
}

func TestPatchDevice_EmptyChaptersSendsNothing(t *testing.T) {
	cloud := toniestest.NewServer(t)
	cloud.AddHousehold("h1", "Home", "owner")
	cloud.AddDevice("h1", "t1", "Elli")

	client, _ := newCloudClient(t, cloud)

	_, err := client.PatchDevice(context.Background(), testAccount, "h1", "t1", "Elli", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	assert.Equal(t, 0, cloud.TokenRequests())
	assert.Equal(t, 0, cloud.APIRequests())
}

func TestPatchDevice_IncompleteChapter(t *testing.T) {
	cloud := toniestest.NewServer(t)
	client, _ := newCloudClient(t, cloud)

	_, err := client.PatchDevice(context.Background(), testAccount, "h1", "t1", "",
		[]ChapterRef{{Title: "no file"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.Equal(t, 0, cloud.APIRequests())
}

func TestRequestUploadToken_PreservesFieldOrder(t *testing.T) {
	cloud := toniestest.NewServer(t)
	client, _ := newCloudClient(t, cloud)

	tok, err := client.RequestUploadToken(context.Background(), testAccount)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.FileID)
	assert.Equal(t, cloud.URL+"/upload", tok.URL)

	names := make([]string, 0, len(tok.Fields))
	for _, f := range tok.Fields {
		names = append(names, f.Name)
	}

	assert.Equal(t, []string{
		"key", "x-amz-algorithm", "x-amz-credential", "x-amz-date", "policy", "x-amz-signature",
	}, names)
	assert.Equal(t, tok.FileID, tok.Fields[0].Value)
}

func TestSyncAudio_EmptyDevice(t *testing.T) {
	cloud := toniestest.NewServer(t)
	cloud.AddHousehold("h1", "Home", "owner")
	cloud.AddDevice("h1", "t1", "Elli")

	client, _ := newCloudClient(t, cloud)

	res := client.SyncAudio(context.Background(), testAccount, "h1", "t1",
		strings.NewReader("ID3 first track"), "Bedtime Story")
	require.True(t, res.Success, res.ErrorDetails)
	assert.Equal(t, 1, res.TracksProcessed)
	assert.Empty(t, res.ErrorDetails)

	chapters := cloud.Chapters("h1", "t1")
	require.Len(t, chapters, 1)
	assert.Equal(t, "Bedtime Story", chapters[0].Title)
	assert.Equal(t, res.FileID, chapters[0].File)

	data, ok := cloud.Uploaded(res.FileID)
	require.True(t, ok)
	assert.Equal(t, "ID3 first track", string(data))

	assert.Equal(t, []string{
		"key", "x-amz-algorithm", "x-amz-credential", "x-amz-date", "policy", "x-amz-signature", "file",
	}, cloud.LastUploadFieldOrder())
}

func TestSyncAudio_AppendsToExistingChapters(t *testing.T) {
	cloud := toniestest.NewServer(t)
	cloud.AddHousehold("h1", "Home", "owner")
	cloud.AddDevice("h1", "t1", "Elli",
		toniestest.Chapter{ID: "c1", Title: "One", File: "f1"},
		toniestest.Chapter{ID: "c2", Title: "Two", File: "f2"},
	)

	client, _ := newCloudClient(t, cloud)

	res := client.SyncAudio(context.Background(), testAccount, "h1", "t1", strings.NewReader("x"), "Three")
	require.True(t, res.Success, res.ErrorDetails)

	chapters := cloud.Chapters("h1", "t1")
	require.Len(t, chapters, 3)
	assert.Equal(t, []string{"One", "Two", "Three"},
		[]string{chapters[0].Title, chapters[1].Title, chapters[2].Title})
	assert.Equal(t, "f1", chapters[0].File)
}

func TestSyncAudio_UploadFailureLeavesDeviceUntouched(t *testing.T) {
	cloud := toniestest.NewServer(t)
	cloud.AddHousehold("h1", "Home", "owner")
	cloud.AddDevice("h1", "t1", "Elli", toniestest.Chapter{ID: "c1", Title: "One", File: "f1"})
	cloud.FailUploads(http.StatusForbidden)

	client, _ := newCloudClient(t, cloud)

	res := client.SyncAudio(context.Background(), testAccount, "h1", "t1", strings.NewReader("x"), "Two")
	assert.False(t, res.Success)
	assert.Equal(t, StageUpload, res.Stage)
	assert.True(t, strings.HasPrefix(res.ErrorDetails, "upload audio: "))
	assert.ErrorIs(t, res.Err, apperr.ErrUploadRejected)

	assert.Equal(t, 0, cloud.PatchRequests())
	assert.Len(t, cloud.Chapters("h1", "t1"), 1)
}

func TestSyncAudio_DeviceGone(t *testing.T) {
	cloud := toniestest.NewServer(t)
	cloud.AddHousehold("h1", "Home", "owner")

	client, _ := newCloudClient(t, cloud)

	res := client.SyncAudio(context.Background(), testAccount, "h1", "missing", strings.NewReader("x"), "Song")
	assert.False(t, res.Success)
	assert.Equal(t, StageFetchDevice, res.Stage)
	assert.ErrorIs(t, res.Err, apperr.ErrNotFound)
	assert.Equal(t, 0, cloud.PatchRequests())
}

func TestSyncAudio_PatchRejected(t *testing.T) {
	cloud := toniestest.NewServer(t)
	cloud.AddHousehold("h1", "Home", "owner")
	cloud.AddDevice("h1", "t1", "Elli")
	cloud.FailPatches(http.StatusUnprocessableEntity)

	client, _ := newCloudClient(t, cloud)

	res := client.SyncAudio(context.Background(), testAccount, "h1", "t1", strings.NewReader("x"), "Song")
	assert.False(t, res.Success)
	assert.Equal(t, StagePatchDevice, res.Stage)
	assert.Contains(t, res.ErrorDetails, "422")
}

func TestSyncAudio_AuthFailure(t *testing.T) {
	cloud := toniestest.NewServer(t)
	cloud.FailToken(http.StatusUnauthorized)

	client, cache := newCloudClient(t, cloud)

	res := client.SyncAudio(context.Background(), testAccount, "h1", "t1", strings.NewReader("x"), "Song")
	assert.False(t, res.Success)
	assert.Equal(t, StageUploadToken, res.Stage)
	assert.ErrorIs(t, res.Err, apperr.ErrAuthenticationFailed)
	assert.Contains(t, res.ErrorDetails, "401")
	assert.False(t, cache.Has(testAccount.Username))
	assert.Equal(t, 0, cloud.UploadRequests())
}

func TestSyncAudio_Validation(t *testing.T) {
	cloud := toniestest.NewServer(t)
	client, _ := newCloudClient(t, cloud)

	tests := []struct {
		name      string
		household string
		device    string
		title     string
		nilAudio  bool
	}{
		{"no household", "", "t1", "Song", false},
		{"no device", "h1", "", "Song", false},
		{"blank title", "h1", "t1", " \t ", false},
		{"nil audio", "h1", "t1", "Song", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var audio io.Reader
			if !tt.nilAudio {
				audio = strings.NewReader("x")
			}

			res := client.SyncAudio(context.Background(), testAccount, tt.household, tt.device, audio, tt.title)

			assert.False(t, res.Success)
			assert.Equal(t, StageValidate, res.Stage)
			assert.ErrorIs(t, res.Err, apperr.ErrInvalidArgument)
		})
	}

	assert.Equal(t, 0, cloud.TokenRequests())
}

func TestSyncAudio_ConcurrentSyncsToOneDeviceKeepBothChapters(t *testing.T) {
	cloud := toniestest.NewServer(t)
	cloud.AddHousehold("h1", "Home", "owner")
	cloud.AddDevice("h1", "t1", "Elli")

	client, _ := newCloudClient(t, cloud)

	const tracks = 5

	var wg sync.WaitGroup

	results := make([]SyncResult, tracks)

	for i := range tracks {
		wg.Add(1)

		go func() {
			defer wg.Done()
			results[i] = client.SyncAudio(context.Background(), testAccount, "h1", "t1",
				strings.NewReader("audio"), "Track "+string(rune('A'+i)))
		}()
	}

	wg.Wait()

	for _, res := range results {
		require.True(t, res.Success, res.ErrorDetails)
	}

	assert.Len(t, cloud.Chapters("h1", "t1"), tracks)
	assert.Empty(t, client.locks.locks)
}

func TestDeviceLocks_CancelWhileWaiting(t *testing.T) {
	locks := newDeviceLocks()

	unlock, err := locks.lock(context.Background(), "h/t")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = locks.lock(ctx, "h/t")
	require.ErrorIs(t, err, context.Canceled)

	unlock()
	assert.Empty(t, locks.locks)
}

func TestNormalizeTitle(t *testing.T) {
	decomposed := "Ma\u0308rchen"

	assert.Equal(t, "M\u00e4rchen", normalizeTitle(decomposed))
	assert.Equal(t, "a b", normalizeTitle("  a\tb\n"))
	assert.Empty(t, normalizeTitle(" \r\n "))
}
