// Package s3post performs presigned multipart POST uploads to object storage.
// The signed form fields come from the cloud API's upload-token response and
// are sent verbatim, in the order supplied, before the file part.
package s3post

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

// maxErrorBody bounds how much of a rejection body is kept for diagnostics.
const maxErrorBody = 64 * 1024

// fileFieldName is the form field S3 expects the object content under.
const fileFieldName = "file"

// Field is one signed form field. Order matters for some signature schemes.
type Field struct {
	Name  string
	Value string
}

// UploadError reports a non-2xx answer from the object store.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("s3post: upload rejected: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *UploadError) Unwrap() error {
	return apperr.ErrUploadRejected
}

// Uploader sends presigned POST uploads. It never retries: a presigned
// policy is single-use and the source stream may not be rewindable.
type Uploader struct {
	httpClient *http.Client
	limiter    *BandwidthLimiter
	logger     *slog.Logger
	userAgent  string
}

// NewUploader creates an Uploader. limiter may be nil (unlimited).
func NewUploader(httpClient *http.Client, limiter *BandwidthLimiter, logger *slog.Logger, userAgent string) *Uploader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Uploader{
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		userAgent:  userAgent,
	}
}

// Upload posts content to url with the signed fields followed by the file
// part, and returns fileID on success. Field values are never logged.
func (u *Uploader) Upload(ctx context.Context, url string, fields []Field, fileID string, content io.Reader) (string, error) {
	if err := validate(url, fields, fileID, content); err != nil {
		return "", err
	}

	body, size, cleanup, err := sized(content)
	if err != nil {
		return "", err
	}
	defer cleanup()

	head, tail, contentType, err := frame(fields, fileID)
	if err != nil {
		return "", err
	}

	total := int64(len(head)) + size + int64(len(tail))

	u.logger.Info("uploading to object storage",
		slog.String("file_id", fileID),
		slog.Int("fields", len(fields)),
		slog.Int64("content_bytes", size),
	)

	reader := io.MultiReader(bytes.NewReader(head), u.limiter.WrapReader(ctx, body), bytes.NewReader(tail))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return "", fmt.Errorf("s3post: creating request: %w", err)
	}

	req.ContentLength = total
	req.Header.Set("Content-Type", contentType)

	if u.userAgent != "" {
		req.Header.Set("User-Agent", u.userAgent)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if cerr := apperr.Cancelled(ctx); cerr != nil {
			return "", fmt.Errorf("s3post: upload %s: %w", fileID, cerr)
		}

		return "", fmt.Errorf("s3post: upload %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best-effort read for error message

		u.logger.Warn("object storage rejected upload",
			slog.String("file_id", fileID),
			slog.Int("status", resp.StatusCode),
		)

		return "", &UploadError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	// Drain body to reuse connection.
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain

	u.logger.Debug("object storage upload complete",
		slog.String("file_id", fileID),
		slog.Int("status", resp.StatusCode),
	)

	return fileID, nil
}

func validate(url string, fields []Field, fileID string, content io.Reader) error {
	switch {
	case strings.TrimSpace(url) == "":
		return apperr.Invalid("s3post: upload url is empty")
	case len(fields) == 0:
		return apperr.Invalid("s3post: no signed fields")
	case fileID == "":
		return apperr.Invalid("s3post: file id is empty")
	case content == nil:
		return apperr.Invalid("s3post: content stream is nil")
	}

	for i, f := range fields {
		if f.Name == "" {
			return apperr.Invalid("s3post: signed field %d has no name", i)
		}
	}

	return nil
}

// frame renders the multipart prefix (all fields plus the file part header)
// and the closing boundary, so the total body length is known up front.
func frame(fields []Field, fileID string) (head, tail []byte, contentType string, err error) {
	var headBuf, tailBuf bytes.Buffer

	sw := &switchWriter{w: &headBuf}
	mw := multipart.NewWriter(sw)

	for _, f := range fields {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return nil, nil, "", fmt.Errorf("s3post: writing field %s: %w", f.Name, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, fileFieldName, fileID))
	h.Set("Content-Type", "application/octet-stream")

	if _, err := mw.CreatePart(h); err != nil {
		return nil, nil, "", fmt.Errorf("s3post: writing file part header: %w", err)
	}

	sw.w = &tailBuf

	if err := mw.Close(); err != nil {
		return nil, nil, "", fmt.Errorf("s3post: closing multipart body: %w", err)
	}

	return headBuf.Bytes(), tailBuf.Bytes(), mw.FormDataContentType(), nil
}

// switchWriter lets one multipart.Writer emit into two buffers.
type switchWriter struct {
	w io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// lenReader is implemented by bytes.Reader, strings.Reader and bytes.Buffer.
type lenReader interface {
	Len() int
}

// sized returns content with its remaining length. Streams of unknown
// length are spooled to a temp file because S3 rejects chunked POST bodies.
func sized(content io.Reader) (io.Reader, int64, func(), error) {
	noop := func() {}

	switch r := content.(type) {
	case lenReader:
		return content, int64(r.Len()), noop, nil
	case *os.File:
		if n, ok := remainingFileBytes(r); ok {
			return r, n, noop, nil
		}
	}

	tmp, err := os.CreateTemp("", "tonies-upload-*")
	if err != nil {
		return nil, 0, noop, fmt.Errorf("s3post: creating spool file: %w", err)
	}

	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	n, err := io.Copy(tmp, content)
	if err != nil {
		cleanup()
		return nil, 0, noop, fmt.Errorf("s3post: spooling content: %w", err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, noop, fmt.Errorf("s3post: rewinding spool file: %w", err)
	}

	return tmp, n, cleanup, nil
}

func remainingFileBytes(f *os.File) (int64, bool) {
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}

	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, false
	}

	return info.Size() - pos, true
}
