package tonies

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

// SyncAudio uploads one audio stream and appends it as a chapter to the
// device: upload token, object upload, device fetch, full-list patch. It
// never returns an error; failures are reported in the result with the
// stage that failed. The fetch-then-patch step holds a per-device lock so
// two syncs in this process cannot overwrite each other's chapter.
func (c *Client) SyncAudio(
	ctx context.Context, acct Account, householdID, deviceID string, audio io.Reader, title string,
) (result SyncResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("sync aborted by panic",
				slog.String("device_id", deviceID),
				slog.Any("panic", r),
			)

			result = failedAt(stageUnexpectedErr, fmt.Errorf("unexpected failure: %v", r))
		}
	}()

	title = normalizeTitle(title)

	switch {
	case householdID == "" || deviceID == "":
		return failedAt(StageValidate, apperr.Invalid("household id and device id are required"))
	case audio == nil:
		return failedAt(StageValidate, apperr.Invalid("audio stream is nil"))
	case title == "":
		return failedAt(StageValidate, apperr.Invalid("track title is empty"))
	}

	logger := c.logger.With(
		slog.String("household_id", householdID),
		slog.String("device_id", deviceID),
	)

	token, err := c.RequestUploadToken(ctx, acct)
	if err != nil {
		return failedAt(StageUploadToken, err)
	}

	if c.uploader == nil {
		return failedAt(StageUpload, fmt.Errorf("tonies: no object storage uploader configured"))
	}

	if _, err := c.uploader.Upload(ctx, token.URL, token.Fields, token.FileID, audio); err != nil {
		return failedAt(StageUpload, err)
	}

	logger.Debug("audio uploaded", slog.String("file_id", token.FileID))

	unlock, err := c.locks.lock(ctx, householdID+"/"+deviceID)
	if err != nil {
		return failedAt(StageFetchDevice, apperr.Cancelled(ctx))
	}
	defer unlock()

	device, err := c.DeviceDetail(ctx, acct, householdID, deviceID)
	if err != nil {
		return failedAt(StageFetchDevice, err)
	}

	chapters := append(chapterRefs(device.Chapters), ChapterRef{Title: title, File: token.FileID})

	patched, err := c.PatchDevice(ctx, acct, householdID, deviceID, device.Name, chapters)
	if err != nil {
		return failedAt(StagePatchDevice, err)
	}

	logger.Info("track synced",
		slog.String("title", title),
		slog.Int("chapters", len(patched.Chapters)),
	)

	return SyncResult{
		Success:         true,
		Message:         fmt.Sprintf("added %q to %s", title, patched.Name),
		TracksProcessed: 1,
		FileID:          token.FileID,
		Device:          patched,
	}
}

// deviceLocks is a keyed mutex. Waiting for a key honors cancellation, and
// entries are dropped once nobody holds or waits on them.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	ch   chan struct{}
	refs int
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: make(map[string]*deviceLock)}
}

func (l *deviceLocks) lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()

	dl, ok := l.locks[key]
	if !ok {
		dl = &deviceLock{ch: make(chan struct{}, 1)}
		l.locks[key] = dl
	}

	dl.refs++
	l.mu.Unlock()

	select {
	case dl.ch <- struct{}{}:
		return func() {
			<-dl.ch
			l.release(key, dl)
		}, nil
	case <-ctx.Done():
		l.release(key, dl)
		return nil, ctx.Err()
	}
}

func (l *deviceLocks) release(key string, dl *deviceLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dl.refs--
	if dl.refs == 0 {
		delete(l.locks, key)
	}
}
