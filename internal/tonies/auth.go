package tonies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

// Defaults for the Tonies identity provider.
const (
	DefaultTokenURL     = "https://login.tonies.com/auth/realms/tonies/protocol/openid-connect/token"
	DefaultClientID     = "my-tonies"
	DefaultExpiryBuffer = 5 * time.Minute

	// fallbackTTL applies when the token response carries no expires_in.
	fallbackTTL = time.Hour
)

type cachedToken struct {
	accessToken string
	expiry      time.Time
}

// TokenCache exchanges username and password for bearer tokens and keeps
// them per identity until expiry minus a safety buffer. Safe for concurrent
// use. Concurrent misses for the same identity share one token request;
// different identities never wait on each other.
type TokenCache struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	buffer     time.Duration
	logger     *slog.Logger

	// nowFunc returns the current time. Tests override it.
	nowFunc func() time.Time

	mu      sync.Mutex
	entries map[string]cachedToken
	flight  singleflight.Group

	// gens counts invalidations per identity. A fetch that started before
	// an Invalidate does not cache its result.
	gens map[string]uint64
}

// NewTokenCache creates a cache that talks to tokenURL as clientID. A
// non-positive buffer selects DefaultExpiryBuffer.
func NewTokenCache(tokenURL, clientID string, httpClient *http.Client, buffer time.Duration, logger *slog.Logger) *TokenCache {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}

	return &TokenCache{
		oauth: &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		buffer:     buffer,
		logger:     logger,
		nowFunc:    time.Now,
		entries:    make(map[string]cachedToken),
		gens:       make(map[string]uint64),
	}
}

// Token returns a bearer token for acct, from cache when the cached token
// is still outside the expiry buffer, otherwise from a fresh password grant.
// A rejected grant fails with *AuthError and leaves nothing cached.
func (c *TokenCache) Token(ctx context.Context, acct Account) (string, error) {
	if acct.Username == "" || acct.Password == "" {
		return "", apperr.Invalid("tonies: username and password are required")
	}

	if tok, ok := c.lookup(acct.Username); ok {
		return tok, nil
	}

	if err := apperr.Cancelled(ctx); err != nil {
		return "", fmt.Errorf("tonies: token request: %w", err)
	}

	// The password is part of the flight key so a caller holding a different
	// secret for the same username never receives someone else's result.
	key := acct.Username + "\x00" + acct.Password

	// The shared fetch runs detached from any one caller; each caller stops
	// waiting on its own cancellation.
	fetchCtx := context.WithoutCancel(ctx)

	ch := c.flight.DoChan(key, func() (any, error) {
		if tok, ok := c.lookup(acct.Username); ok {
			return tok, nil
		}

		return c.fetch(fetchCtx, acct, c.generation(acct.Username))
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("tonies: token request: %w", apperr.Cancelled(ctx))
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		if res.Shared {
			c.logger.Debug("token request shared with concurrent caller",
				slog.String("username", acct.Username),
			)
		}

		return res.Val.(string), nil //nolint:forcetypeassert // flight only ever returns strings
	}
}

// Invalidate drops any cached token for username. It never fails.
func (c *TokenCache) Invalidate(username string) {
	c.mu.Lock()
	_, had := c.entries[username]
	delete(c.entries, username)
	c.gens[username]++
	c.mu.Unlock()

	if had {
		c.logger.Debug("token invalidated", slog.String("username", username))
	}
}

// Has reports whether a token for username is currently cached, regardless
// of freshness.
func (c *TokenCache) Has(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[username]

	return ok
}

func (c *TokenCache) lookup(username string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[username]
	if !ok {
		return "", false
	}

	if !c.nowFunc().Before(entry.expiry.Add(-c.buffer)) {
		delete(c.entries, username)
		return "", false
	}

	return entry.accessToken, true
}

func (c *TokenCache) generation(username string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gens[username]
}

// fetch performs the password grant. Runs outside c.mu. The token is cached
// only if username was not invalidated since gen was read.
func (c *TokenCache) fetch(ctx context.Context, acct Account, gen uint64) (string, error) {
	c.logger.Info("requesting access token", slog.String("username", acct.Username))

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.oauth.PasswordCredentialsToken(ctx, acct.Username, acct.Password)
	if err != nil {
		return "", c.classifyGrantError(acct, err)
	}

	if tok.AccessToken == "" {
		return "", &AuthError{Body: "token response carried no access token"}
	}

	ttl := fallbackTTL
	if !tok.Expiry.IsZero() {
		ttl = time.Until(tok.Expiry)
	}

	expiry := c.nowFunc().Add(ttl)

	c.mu.Lock()
	stale := c.gens[acct.Username] != gen
	if !stale {
		c.entries[acct.Username] = cachedToken{accessToken: tok.AccessToken, expiry: expiry}
	}
	c.mu.Unlock()

	if stale {
		c.logger.Debug("token invalidated during request, not caching",
			slog.String("username", acct.Username),
		)

		return tok.AccessToken, nil
	}

	c.logger.Debug("access token cached",
		slog.String("username", acct.Username),
		slog.Duration("ttl", ttl),
	)

	return tok.AccessToken, nil
}

func (c *TokenCache) classifyGrantError(acct Account, err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		authErr := &AuthError{Body: string(rErr.Body)}
		if rErr.Response != nil {
			authErr.StatusCode = rErr.Response.StatusCode
		}

		c.logger.Warn("token request rejected",
			slog.String("username", acct.Username),
			slog.Int("status", authErr.StatusCode),
		)

		return authErr
	}

	// oauth2 reports a 2xx response without access_token as a plain error.
	if !isTransportError(err) {
		return &AuthError{Body: err.Error()}
	}

	return fmt.Errorf("tonies: token request: %w", err)
}

func isTransportError(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr)
}
