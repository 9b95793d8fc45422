package tonies

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/tonies-go/internal/s3post"
)

// Account is a decrypted Tonies login. The password never appears in logs.
type Account struct {
	Username string
	Password string
}

// LogValue keeps the password out of structured logs.
func (a Account) LogValue() slog.Value {
	return slog.StringValue(a.Username)
}

// Household is a group-ownership boundary in the Tonies cloud.
type Household struct {
	ID        string
	Name      string
	Access    string // "owner" or "member"
	CanLeave  bool
	OwnerName string
}

// Chapter is one audio track on a Creative Tonie.
type Chapter struct {
	ID          string
	Title       string
	Seconds     float64
	File        string
	Transcoding bool
}

// Device is a Creative Tonie. Its chapter list is only as fresh as the
// last fetch.
type Device struct {
	ID                string
	HouseholdID       string
	Name              string
	SecondsPresent    float64
	SecondsRemaining  float64
	ChaptersPresent   int
	ChaptersRemaining int
	Transcoding       bool
	Chapters          []Chapter
}

// ChapterRef is the shape a chapter takes in a PATCH body.
type ChapterRef struct {
	Title string `json:"title"`
	File  string `json:"file"`
}

// UploadToken is a single-use presigned POST: the file ID the cloud will
// know the upload by, the object-store URL, and the signed form fields in
// the order the server sent them.
type UploadToken struct {
	FileID string
	URL    string
	Fields []s3post.Field
}

// householdResponse mirrors one element of GET /households.
type householdResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Access    string `json:"access"`
	CanLeave  bool   `json:"canLeave"`
	OwnerName string `json:"ownerName"`
}

func (h *householdResponse) toHousehold() Household {
	return Household{
		ID:        h.ID,
		Name:      h.Name,
		Access:    h.Access,
		CanLeave:  h.CanLeave,
		OwnerName: h.OwnerName,
	}
}

// chapterResponse mirrors a chapter inside a Creative Tonie response.
type chapterResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	File        string  `json:"file"`
	Seconds     float64 `json:"seconds"`
	Transcoding bool    `json:"transcoding"`
}

// deviceResponse mirrors a Creative Tonie as returned by the cloud API.
type deviceResponse struct {
	ID                string            `json:"id"`
	HouseholdID       string            `json:"householdId"`
	Name              string            `json:"name"`
	SecondsPresent    float64           `json:"secondsPresent"`
	SecondsRemaining  float64           `json:"secondsRemaining"`
	ChaptersPresent   int               `json:"chaptersPresent"`
	ChaptersRemaining int               `json:"chaptersRemaining"`
	Transcoding       bool              `json:"transcoding"`
	Chapters          []chapterResponse `json:"chapters"`
}

// toDevice normalizes a device response. householdID fills in for
// responses that omit it.
func (d *deviceResponse) toDevice(householdID string) Device {
	dev := Device{
		ID:                d.ID,
		HouseholdID:       d.HouseholdID,
		Name:              d.Name,
		SecondsPresent:    d.SecondsPresent,
		SecondsRemaining:  d.SecondsRemaining,
		ChaptersPresent:   d.ChaptersPresent,
		ChaptersRemaining: d.ChaptersRemaining,
		Transcoding:       d.Transcoding,
		Chapters:          make([]Chapter, 0, len(d.Chapters)),
	}

	if dev.HouseholdID == "" {
		dev.HouseholdID = householdID
	}

	for i := range d.Chapters {
		c := &d.Chapters[i]
		dev.Chapters = append(dev.Chapters, Chapter{
			ID:          c.ID,
			Title:       c.Title,
			Seconds:     c.Seconds,
			File:        c.File,
			Transcoding: c.Transcoding,
		})
	}

	return dev
}

// uploadTokenResponse mirrors POST /file.
type uploadTokenResponse struct {
	FileID  string `json:"fileId"`
	Request struct {
		URL    string        `json:"url"`
		Fields orderedFields `json:"fields"`
	} `json:"request"`
}

// orderedFields decodes a JSON object into form fields without losing the
// server's key order, which a Go map would.
type orderedFields []s3post.Field

func (f *orderedFields) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("upload fields: expected a JSON object")
	}

	var out orderedFields

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}

		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("upload fields: unexpected key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("upload fields: value for %s: %w", key, err)
		}

		// Non-string values are passed through in their JSON spelling.
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			value = string(raw)
		}

		out = append(out, s3post.Field{Name: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*f = out

	return nil
}

// Sync stage names reported in SyncResult.Stage.
const (
	StageValidate      = "validate"
	StageUploadToken   = "request upload token"
	StageUpload        = "upload audio"
	StageFetchDevice   = "fetch device"
	StagePatchDevice   = "patch device"
	stageUnexpectedErr = "sync"
)

// SyncResult is the outcome of one SyncAudio call. Failures are reported
// here rather than returned as errors so every attempt is observable.
type SyncResult struct {
	Success         bool    `json:"success"`
	Message         string  `json:"message"`
	Stage           string  `json:"stage,omitempty"`
	ErrorDetails    string  `json:"errorDetails,omitempty"`
	TracksProcessed int     `json:"tracksProcessed"`
	FileID          string  `json:"fileId,omitempty"`
	Device          *Device `json:"-"`

	// Err is the underlying cause of a failure, for errors.Is checks.
	Err error `json:"-"`
}

// failedAt builds a failed result for stage.
func failedAt(stage string, err error) SyncResult {
	return SyncResult{
		Success:      false,
		Message:      "sync failed at " + stage,
		Stage:        stage,
		ErrorDetails: stage + ": " + err.Error(),
		Err:          err,
	}
}
