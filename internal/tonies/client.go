package tonies

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/s3post"
)

// DefaultBaseURL is the Tonies cloud API root.
const DefaultBaseURL = "https://api.tonie.cloud/v2"

// Retry and backoff constants.
const (
	defaultMaxRetries = 3
	baseBackoff       = 1 * time.Second
	maxBackoff        = 60 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
)

// TokenProvider supplies bearer tokens per identity. *TokenCache is the
// real implementation.
type TokenProvider interface {
	Token(ctx context.Context, acct Account) (string, error)
	Invalidate(username string)
}

// Uploader pushes bytes to a presigned POST target. *s3post.Uploader is
// the real implementation.
type Uploader interface {
	Upload(ctx context.Context, url string, fields []s3post.Field, fileID string, content io.Reader) (string, error)
}

// Client is an HTTP client for the Tonies cloud API. It attaches bearer
// tokens, retries idempotent requests with exponential backoff, and maps
// failures onto the apperr taxonomy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	uploader   Uploader
	logger     *slog.Logger
	userAgent  string
	maxRetries int
	locks      *deviceLocks

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a cloud API client. baseURL is typically DefaultBaseURL.
func NewClient(
	baseURL string, httpClient *http.Client, tokens TokenProvider, uploader Uploader,
	logger *slog.Logger, userAgent string,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		uploader:   uploader,
		logger:     logger,
		userAgent:  userAgent,
		maxRetries: defaultMaxRetries,
		locks:      newDeviceLocks(),
		sleepFunc:  timeSleep,
	}
}

// SetMaxRetries sets how many times an idempotent request is retried.
// Zero disables retries.
func (c *Client) SetMaxRetries(n int) {
	c.maxRetries = max(n, 0)
}

// Do executes one API call for acct. body, when non-nil, is sent as JSON.
// On success the caller owns the response body. Only idempotent methods
// are retried.
func (c *Client) Do(ctx context.Context, acct Account, method, path string, body []byte) (*http.Response, error) {
	url := c.baseURL + path
	retries := 0

	if isIdempotent(method) {
		retries = c.maxRetries
	}

	var attempt int
	for {
		resp, err := c.doOnce(ctx, acct, method, url, body)
		if err != nil {
			if cerr := apperr.Cancelled(ctx); cerr != nil {
				return nil, fmt.Errorf("tonies: %s %s: %w", method, path, cerr)
			}

			if isTokenError(err) || attempt >= retries {
				return nil, fmt.Errorf("tonies: %s %s: %w", method, path, err)
			}

			backoff := c.calcBackoff(attempt)
			c.logger.Warn("retrying after network error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("tonies: %s %s: %w", method, path, apperr.Cancelled(ctx))
			}

			attempt++

			continue
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < retries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("tonies: %s %s: %w", method, path, apperr.Cancelled(ctx))
			}

			attempt++

			continue
		}

		sentinel := classifyStatus(resp.StatusCode)
		if sentinel == apperr.ErrAuthenticationFailed {
			// The server no longer honors this token; the next call re-authenticates.
			c.tokens.Invalidate(acct.Username)
		}

		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempts", attempt+1),
		)

		return nil, &RemoteError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
			Err:        sentinel,
		}
	}
}

// tokenError marks failures obtaining a bearer token so Do does not retry them.
type tokenError struct{ err error }

func (e *tokenError) Error() string { return "obtaining token: " + e.err.Error() }
func (e *tokenError) Unwrap() error { return e.err }

func isTokenError(err error) bool {
	_, ok := err.(*tokenError) //nolint:errorlint // doOnce returns it unwrapped
	return ok
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, acct Account, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.tokens.Token(ctx, acct)
	if err != nil {
		return nil, &tokenError{err: err}
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// getJSON GETs path and decodes the JSON response into v.
func (c *Client) getJSON(ctx context.Context, acct Account, path string, v any) error {
	resp, err := c.Do(ctx, acct, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeBody(resp, path, v)
}

func decodeBody(resp *http.Response, path string, v any) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("tonies: decoding %s response: %w: %w", path, apperr.ErrRemoteProtocol, err)
	}

	return nil
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
