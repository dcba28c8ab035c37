// Package auth provides carrier API token acquisition and caching.
//
// Tokens are cached per tenant and refreshed before they enter the expiry
// buffer window, so orchestration calls never go out with a token about to
// die mid-flight. Concurrent callers needing a refresh share one in-flight
// request through a singleflight group.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshBuffer is how long before expiry a token is considered
// stale and refreshed synchronously.
const DefaultRefreshBuffer = 60 * time.Second

// Token is an access token with its absolute expiry.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Fresh reports whether the token is still outside the buffer window.
func (t Token) Fresh(now time.Time, buffer time.Duration) bool {
	return t.AccessToken != "" && now.Add(buffer).Before(t.ExpiresAt)
}

// TokenSource fetches a new token for a tenant from the identity endpoint.
type TokenSource interface {
	FetchToken(ctx context.Context, tenant string) (Token, error)
}

// Error is an authentication failure. It propagates up to callers rather
// than being swallowed: an order must never be attempted without a valid
// token.
type Error struct {
	Tenant string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("authentication failed for tenant %q: %v", e.Tenant, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Provider caches tokens per tenant and deduplicates refreshes.
type Provider struct {
	source        TokenSource
	refreshBuffer time.Duration

	mu    sync.RWMutex
	cache map[string]Token
	sf    singleflight.Group
}

// NewProvider creates a Provider over the given source. A non-positive
// buffer falls back to DefaultRefreshBuffer.
func NewProvider(source TokenSource, refreshBuffer time.Duration) *Provider {
	if refreshBuffer <= 0 {
		refreshBuffer = DefaultRefreshBuffer
	}
	slog.Debug("Creating auth Provider", "refreshBuffer", refreshBuffer)
	return &Provider{
		source:        source,
		refreshBuffer: refreshBuffer,
		cache:         make(map[string]Token),
	}
}

// Token returns a token for the tenant that will outlive the buffer window,
// refreshing synchronously when the cached one is stale. Concurrent callers
// hitting a stale cache await the same in-flight refresh rather than issuing
// duplicates.
func (p *Provider) Token(ctx context.Context, tenant string) (string, error) {
	p.mu.RLock()
	tok, ok := p.cache[tenant]
	p.mu.RUnlock()
	if ok && tok.Fresh(time.Now(), p.refreshBuffer) {
		return tok.AccessToken, nil
	}

	v, err, shared := p.sf.Do(tenant, func() (interface{}, error) {
		// Re-check under the flight: another caller may have refreshed
		// between our cache miss and joining the group.
		p.mu.RLock()
		tok, ok := p.cache[tenant]
		p.mu.RUnlock()
		if ok && tok.Fresh(time.Now(), p.refreshBuffer) {
			return tok, nil
		}
		slog.Info("auth Provider refreshing token", "tenant", tenant)
		fresh, err := p.source.FetchToken(ctx, tenant)
		if err != nil {
			return Token{}, &Error{Tenant: tenant, Err: err}
		}
		p.mu.Lock()
		p.cache[tenant] = fresh
		p.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		slog.Error("auth Provider token refresh failed", "error", err, "tenant", tenant)
		return "", err
	}
	tok = v.(Token)
	slog.Debug("auth Provider token ready", "tenant", tenant, "sharedRefresh", shared, "expiresAt", tok.ExpiresAt)
	return tok.AccessToken, nil
}

// Invalidate drops the cached token for a tenant, forcing the next call to
// refresh. Used after the carrier rejects a token early.
func (p *Provider) Invalidate(tenant string) {
	p.mu.Lock()
	delete(p.cache, tenant)
	p.mu.Unlock()
}
