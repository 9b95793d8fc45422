// Package media stores and retrieves the audio bytes behind content
// records. Each backend implements Provider; a Registry picks the backend
// from a content locator of the form "<kind>:<key>" or a plain http(s) URL.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

// Kind tags a storage backend.
type Kind string

// Supported backends.
const (
	KindDatabase   Kind = "database"
	KindFilesystem Kind = "filesystem"
	KindS3         Kind = "s3"
	KindGDrive     Kind = "gdrive"
	KindHTTP       Kind = "http"
)

// ErrReadOnly is returned by write operations on read-only providers.
var ErrReadOnly = errors.New("media: provider is read-only")

// Metadata describes a stored object.
type Metadata struct {
	Key         string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Provider is the capability set every backend implements. Download
// returns a stream the caller must close. Missing keys yield
// apperr.ErrNotFound from Download and Metadata, and false from Exists.
type Provider interface {
	Kind() Kind
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (Metadata, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Metadata(ctx context.Context, key string) (Metadata, error)
}

// URLResolver is implemented by providers that can hand out a URL a remote
// party can fetch the object from.
type URLResolver interface {
	ResolveURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ParseLocator splits a locator into its backend kind and key.
func ParseLocator(locator string) (Kind, string, error) {
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return KindHTTP, locator, nil
	}

	kind, key, ok := strings.Cut(locator, ":")
	if !ok || kind == "" || key == "" {
		return "", "", apperr.Invalid("media: malformed locator %q", locator)
	}

	return Kind(kind), key, nil
}

// Locator builds the locator for key stored under kind.
func Locator(kind Kind, key string) string {
	if kind == KindHTTP {
		return key
	}

	return string(kind) + ":" + key
}

// Registry holds the configured providers.
type Registry struct {
	providers   map[Kind]Provider
	defaultKind Kind
}

// NewRegistry creates a Registry. New content is stored with the
// defaultKind provider, which must be among providers.
func NewRegistry(defaultKind Kind, providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[Kind]Provider, len(providers)), defaultKind: defaultKind}

	for _, p := range providers {
		r.providers[p.Kind()] = p
	}

	if _, ok := r.providers[defaultKind]; !ok {
		return nil, fmt.Errorf("media: default storage %q is not configured", defaultKind)
	}

	return r, nil
}

// Provider returns the provider for kind.
func (r *Registry) Provider(kind Kind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, apperr.Invalid("media: storage %q is not configured", kind)
	}

	return p, nil
}

// DefaultKind names the provider new content goes to.
func (r *Registry) DefaultKind() Kind {
	return r.defaultKind
}

// Store writes r under key with the default provider and returns the
// locator to record.
func (r *Registry) Store(ctx context.Context, key string, body io.Reader, contentType string) (string, Metadata, error) {
	p := r.providers[r.defaultKind]

	md, err := p.Upload(ctx, key, body, contentType)
	if err != nil {
		return "", Metadata{}, err
	}

	return Locator(p.Kind(), md.Key), md, nil
}

// Open streams the object behind locator.
func (r *Registry) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	p, key, err := r.resolve(locator)
	if err != nil {
		return nil, err
	}

	return p.Download(ctx, key)
}

// Remove deletes the object behind locator.
func (r *Registry) Remove(ctx context.Context, locator string) error {
	p, key, err := r.resolve(locator)
	if err != nil {
		return err
	}

	return p.Delete(ctx, key)
}

// ResolveURL turns locator into a URL fetchable by a remote party. It fails
// with apperr.ErrInvalidArgument for providers that cannot serve URLs.
func (r *Registry) ResolveURL(ctx context.Context, locator string, ttl time.Duration) (string, error) {
	p, key, err := r.resolve(locator)
	if err != nil {
		return "", err
	}

	res, ok := p.(URLResolver)
	if !ok {
		return "", apperr.Invalid("media: %s storage cannot produce fetchable URLs", p.Kind())
	}

	return res.ResolveURL(ctx, key, ttl)
}

func (r *Registry) resolve(locator string) (Provider, string, error) {
	kind, key, err := ParseLocator(locator)
	if err != nil {
		return nil, "", err
	}

	p, err := r.Provider(kind)
	if err != nil {
		return nil, "", err
	}

	return p, key, nil
}

func notFound(kind Kind, key string) error {
	return fmt.Errorf("media: %s object %q: %w", kind, key, apperr.ErrNotFound)
}

func isNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
