package exchange

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dcabot/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	calls    int32
	loadFunc func(ctx context.Context, userID string) (Credentials, error)
}

func (f *fakeLoader) Load(ctx context.Context, userID string) (Credentials, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.loadFunc(ctx, userID)
}

func TestCredentialCache_CachesUntilTTLExpires(t *testing.T) {
	loader := &fakeLoader{loadFunc: func(ctx context.Context, userID string) (Credentials, error) {
		return Credentials{APIKey: "key-" + userID, APISecret: "secret"}, nil
	}}
	cache := NewCredentialCache(loader, 50*time.Millisecond)

	creds, err := cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "key-user-1", creds.APIKey)
	assert.EqualValues(t, 1, atomic.LoadInt32(&loader.calls))

	_, err = cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&loader.calls), "a fresh cache entry must not reload")

	time.Sleep(60 * time.Millisecond)
	_, err = cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&loader.calls), "expired entries must reload")
}

func TestCredentialCache_RetriesTransientLoaderErrors(t *testing.T) {
	attempt := int32(0)
	loader := &fakeLoader{loadFunc: func(ctx context.Context, userID string) (Credentials, error) {
		n := atomic.AddInt32(&attempt, 1)
		if n < 3 {
			return Credentials{}, apperrors.NewExchangeError(apperrors.KindTransient, "temporary blip", nil)
		}
		return Credentials{APIKey: "recovered"}, nil
	}}
	cache := NewCredentialCache(loader, time.Minute)

	creds, err := cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "recovered", creds.APIKey)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempt))
}

func TestCredentialCache_DoesNotRetryPermanentFailures(t *testing.T) {
	loader := &fakeLoader{loadFunc: func(ctx context.Context, userID string) (Credentials, error) {
		return Credentials{}, apperrors.NewExchangeError(apperrors.KindAuthFailed, "bad credentials", nil)
	}}
	cache := NewCredentialCache(loader, time.Minute)

	_, err := cache.Get(context.Background(), "user-1")
	require.Error(t, err)
	exErr, ok := apperrors.AsExchangeError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindAuthFailed, exErr.Kind)
	assert.EqualValues(t, 1, atomic.LoadInt32(&loader.calls), "auth failures must not be retried")
}

func TestCredentialCache_IsolatesByUser(t *testing.T) {
	loader := &fakeLoader{loadFunc: func(ctx context.Context, userID string) (Credentials, error) {
		return Credentials{APIKey: userID}, nil
	}}
	cache := NewCredentialCache(loader, time.Minute)

	a, err := cache.Get(context.Background(), "alice")
	require.NoError(t, err)
	b, err := cache.Get(context.Background(), "bob")
	require.NoError(t, err)
	assert.NotEqual(t, a.APIKey, b.APIKey)
}

var errPlain = errors.New("plain, non-exchange error")

func TestIsTransientLoadError_DefaultsRetryableForUnknownErrors(t *testing.T) {
	assert.True(t, isTransientLoadError(errPlain))
	assert.False(t, isTransientLoadError(apperrors.NewExchangeError(apperrors.KindAuthFailed, "x", nil)))
	assert.True(t, isTransientLoadError(apperrors.NewExchangeError(apperrors.KindRateLimited, "x", nil)))
}
