// Package apperr defines the error taxonomy shared by every tonies-go
// component. Packages wrap these sentinels with %w and their own prefix;
// callers classify with errors.Is.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is a caller error detected before any I/O.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAuthenticationFailed means bad credentials or a rejected grant/token.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotFound means the addressed entity does not exist (household,
	// device, content, job, credential).
	ErrNotFound = errors.New("not found")

	// ErrCorruptCiphertext means a stored secret failed decoding or
	// authenticated decryption.
	ErrCorruptCiphertext = errors.New("corrupt ciphertext")

	// ErrUploadRejected means the object storage handshake failed.
	ErrUploadRejected = errors.New("upload rejected")

	// ErrRemoteProtocol covers every other non-2xx answer from the cloud API.
	ErrRemoteProtocol = errors.New("remote protocol error")

	// ErrCancelled means the caller's context was canceled or timed out.
	ErrCancelled = errors.New("cancelled")
)

// Invalid returns an ErrInvalidArgument wrapped with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Cancelled wraps ctx's error so that it matches both ErrCancelled and the
// underlying context error. Returns nil when ctx is still live.
func Cancelled(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
}
