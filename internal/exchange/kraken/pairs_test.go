package kraken

import (
	"testing"

	"dcabot/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePair(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"BTC/USD", "XXBTZUSD"},
		{"ETH/USD", "XETHZUSD"},
		{"XRP/EUR", "XXRPZEUR"},
		{"DOGE/USD", "XXDGZUSD"},
		{"SOL/USD", "SOLUSD"},
		{"ADA/EUR", "ADAZEUR"},
		{"btc/usd", "XXBTZUSD"}, // lowercase input normalizes
		{"SOL/USDT", "SOLUSDT"}, // non-fiat quote keeps its own code
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			got, err := normalizePair(tt.symbol)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePair_UnknownBase(t *testing.T) {
	_, err := normalizePair("FAKE/USD")
	require.Error(t, err)
	exErr, ok := apperrors.AsExchangeError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindUnknownPair, exErr.Kind)
}

func TestNormalizePair_Malformed(t *testing.T) {
	_, err := normalizePair("BTCUSD")
	require.Error(t, err)
	exErr, ok := apperrors.AsExchangeError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindUnknownPair, exErr.Kind)
}

func TestAssetPrecision(t *testing.T) {
	assert.EqualValues(t, 8, assetPrecision("BTC"))
	assert.EqualValues(t, 8, assetPrecision("eth"))
	assert.EqualValues(t, 2, assetPrecision("USD"))
	assert.EqualValues(t, 8, assetPrecision("SOMETHING_UNLISTED"))
}

func TestBaseAssetCode(t *testing.T) {
	tests := []struct {
		pair string
		want string
	}{
		{"XXBTZUSD", "XXBT"},
		{"XETHZUSD", "XETH"},
		{"SOLUSD", "SOL"},
		{"ADAUSD", "ADA"},
		{"ADAZEUR", "ADA"},
		{"MATICUSD", "MATIC"},
	}
	for _, tt := range tests {
		t.Run(tt.pair, func(t *testing.T) {
			got, err := baseAssetCode(tt.pair)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBaseAssetCode_Unknown(t *testing.T) {
	_, err := baseAssetCode("FAKEUSD")
	require.Error(t, err)
	exErr, ok := apperrors.AsExchangeError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindUnknownPair, exErr.Kind)
}

func TestMinOrderSize(t *testing.T) {
	v, ok := minOrderSize("XXBTZUSD")
	require.True(t, ok)
	assert.Equal(t, 0.0001, v)

	v, ok = minOrderSize("UNLISTEDPAIR")
	assert.False(t, ok)
	assert.Equal(t, 0.001, v)
}
