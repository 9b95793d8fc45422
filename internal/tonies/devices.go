package tonies

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

// DeviceDetail fetches one Creative Tonie with its current chapter list.
// A device that no longer exists fails with apperr.ErrNotFound.
func (c *Client) DeviceDetail(ctx context.Context, acct Account, householdID, deviceID string) (*Device, error) {
	if householdID == "" || deviceID == "" {
		return nil, apperr.Invalid("tonies: household id and device id are required")
	}

	var resp deviceResponse
	if err := c.getJSON(ctx, acct, devicePath(householdID, deviceID), &resp); err != nil {
		return nil, err
	}

	dev := resp.toDevice(householdID)

	return &dev, nil
}

// patchRequest is the PATCH body. The chapter list replaces the device's
// chapters wholesale; a chapter left out is deleted remotely.
type patchRequest struct {
	Name     string       `json:"name,omitempty"`
	Chapters []ChapterRef `json:"chapters"`
}

// PatchDevice replaces the device's chapter list. Callers must fetch the
// current chapters first and send the complete list back. An empty list
// is rejected before any request is made.
func (c *Client) PatchDevice(
	ctx context.Context, acct Account, householdID, deviceID, name string, chapters []ChapterRef,
) (*Device, error) {
	if householdID == "" || deviceID == "" {
		return nil, apperr.Invalid("tonies: household id and device id are required")
	}

	if len(chapters) == 0 {
		return nil, apperr.Invalid("tonies: refusing to patch %s with an empty chapter list", deviceID)
	}

	for i, ch := range chapters {
		if ch.Title == "" || ch.File == "" {
			return nil, apperr.Invalid("tonies: chapter %d needs a title and a file", i)
		}
	}

	body, err := json.Marshal(patchRequest{Name: name, Chapters: chapters})
	if err != nil {
		return nil, fmt.Errorf("tonies: encoding patch body: %w", err)
	}

	path := devicePath(householdID, deviceID)

	resp, err := c.Do(ctx, acct, http.MethodPatch, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out deviceResponse
	if err := decodeBody(resp, path, &out); err != nil {
		return nil, err
	}

	dev := out.toDevice(householdID)

	c.logger.Info("patched device chapters",
		slog.String("device_id", deviceID),
		slog.Int("chapters", len(dev.Chapters)),
	)

	return &dev, nil
}

// chapterRefs converts fetched chapters into PATCH entries.
func chapterRefs(chapters []Chapter) []ChapterRef {
	refs := make([]ChapterRef, 0, len(chapters)+1)
	for i := range chapters {
		refs = append(refs, ChapterRef{Title: chapters[i].Title, File: chapters[i].File})
	}

	return refs
}
