package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeErrorKind_Retryable(t *testing.T) {
	tests := []struct {
		kind      ExchangeErrorKind
		retryable bool
	}{
		{KindRateLimited, true},
		{KindTransient, true},
		{KindCanceled, true},
		{KindExpired, true},
		{KindUnknownPair, false},
		{KindInsufficientBalance, false},
		{KindInvalidPrecision, false},
		{KindMinOrderSize, false},
		{KindAuthFailed, false},
		{KindOther, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.retryable, tt.kind.Retryable(), tt.kind)
	}
}

func TestExchangeError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewExchangeError(KindTransient, "request failed", cause)

	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "request failed")
	assert.Contains(t, err.Error(), "underlying")
	assert.Equal(t, cause, errors.Unwrap(err))

	noCause := NewExchangeError(KindAuthFailed, "bad key", nil)
	assert.NotContains(t, noCause.Error(), "underlying")
}

func TestAsExchangeError(t *testing.T) {
	wrapped := NewExchangeError(KindRateLimited, "slow down", nil)
	got, ok := AsExchangeError(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindRateLimited, got.Kind)

	_, ok = AsExchangeError(errors.New("plain error"))
	assert.False(t, ok)

	_, ok = AsExchangeError(ErrConflictingOrder)
	assert.False(t, ok)
}
