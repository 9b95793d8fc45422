package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

// HTTP reads objects from plain http(s) URLs. Keys are the URLs themselves.
type HTTP struct {
	client    *http.Client
	userAgent string
}

// NewHTTP creates a read-only HTTP provider.
func NewHTTP(client *http.Client, userAgent string) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTP{client: client, userAgent: userAgent}
}

func (h *HTTP) Kind() Kind { return KindHTTP }

func (h *HTTP) Upload(context.Context, string, io.Reader, string) (Metadata, error) {
	return Metadata{}, ErrReadOnly
}

func (h *HTTP) Delete(context.Context, string) error {
	return ErrReadOnly
}

func (h *HTTP) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := h.do(ctx, http.MethodGet, key)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

func (h *HTTP) Exists(ctx context.Context, key string) (bool, error) {
	_, err := h.Metadata(ctx, key)
	if err == nil {
		return true, nil
	}

	if isNotFound(err) {
		return false, nil
	}

	return false, err
}

func (h *HTTP) Metadata(ctx context.Context, key string) (Metadata, error) {
	resp, err := h.do(ctx, http.MethodHead, key)
	if err != nil {
		return Metadata{}, err
	}
	resp.Body.Close()

	md := Metadata{Key: key, Size: resp.ContentLength, ContentType: resp.Header.Get("Content-Type")}

	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		md.ModTime = lm.UTC()
	}

	return md, nil
}

// ResolveURL returns the URL unchanged; it is already fetchable.
func (h *HTTP) ResolveURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return key, nil
}

func (h *HTTP) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, apperr.Invalid("media: bad url %q: %v", url, err)
	}

	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media: %s %s: %w", method, url, err)
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		resp.Body.Close()
		return nil, notFound(KindHTTP, url)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("media: %s %s: HTTP %d", method, url, resp.StatusCode)
	}

	return resp, nil
}
