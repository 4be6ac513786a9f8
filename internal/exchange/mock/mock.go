// Package mock provides an in-memory Adapter test double.
package mock

import (
	"context"
	"sync"
	"time"

	"dcabot/internal/exchange"
	"dcabot/pkg/apperrors"

	"github.com/shopspring/decimal"
)

// Adapter is a fully in-memory exchange.Adapter for tests. Every call is
// deterministic and driven by fields callers set directly.
type Adapter struct {
	mu sync.Mutex

	Pairs      map[string]string
	Precisions map[string]int32
	MinSizes   map[string]decimal.Decimal
	BaseAssets map[string]string
	Tickers    map[string]exchange.Ticker
	Candles    map[string][]exchange.Candle
	Balances   map[string]decimal.Decimal

	PlaceOrderFunc func(req exchange.PlaceOrderRequest) (exchange.PlaceOrderResult, error)
	QueryOrderFunc func(txID string) (exchange.OrderQueryResult, error)

	PlacedOrders []exchange.PlaceOrderRequest
	nextTxID     int
}

var _ exchange.Adapter = (*Adapter)(nil)

// New returns an Adapter with empty tables ready for a test to populate.
func New() *Adapter {
	return &Adapter{
		Pairs:      make(map[string]string),
		Precisions: make(map[string]int32),
		MinSizes:   make(map[string]decimal.Decimal),
		BaseAssets: make(map[string]string),
		Tickers:    make(map[string]exchange.Ticker),
		Candles:    make(map[string][]exchange.Candle),
		Balances:   make(map[string]decimal.Decimal),
	}
}

func (a *Adapter) NormalizePair(displaySymbol string) (string, error) {
	if pair, ok := a.Pairs[displaySymbol]; ok {
		return pair, nil
	}
	return "", apperrors.NewExchangeError(apperrors.KindUnknownPair, "unknown symbol: "+displaySymbol, nil)
}

func (a *Adapter) AssetPrecision(asset string) (int32, error) {
	if p, ok := a.Precisions[asset]; ok {
		return p, nil
	}
	return 8, nil
}

func (a *Adapter) MinOrderSize(pair string) (decimal.Decimal, error) {
	if v, ok := a.MinSizes[pair]; ok {
		return v, nil
	}
	return decimal.Zero, nil
}

// BaseAssetCode returns the configured code for pair, falling back to a
// 4-character prefix truncation (correct for the legacy X-cohort pairs
// tests default to configuring).
func (a *Adapter) BaseAssetCode(pair string) (string, error) {
	if code, ok := a.BaseAssets[pair]; ok {
		return code, nil
	}
	if len(pair) > 4 {
		return pair[:4], nil
	}
	return pair, nil
}

func (a *Adapter) GetTicker(_ context.Context, pair string) (exchange.Ticker, error) {
	t, ok := a.Tickers[pair]
	if !ok {
		return exchange.Ticker{}, apperrors.NewExchangeError(apperrors.KindUnknownPair, "no ticker for "+pair, nil)
	}
	return t, nil
}

func (a *Adapter) GetOHLC(_ context.Context, pair string, _ time.Duration) ([]exchange.Candle, error) {
	return a.Candles[pair], nil
}

func (a *Adapter) GetBalance(_ context.Context) (map[string]decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(a.Balances))
	for k, v := range a.Balances {
		out[k] = v
	}
	return out, nil
}

func (a *Adapter) PlaceOrder(_ context.Context, req exchange.PlaceOrderRequest) (exchange.PlaceOrderResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.PlacedOrders = append(a.PlacedOrders, req)

	if a.PlaceOrderFunc != nil {
		return a.PlaceOrderFunc(req)
	}

	a.nextTxID++
	return exchange.PlaceOrderResult{
		TxID:       string(req.Side) + "-" + itoa(a.nextTxID),
		AcceptedAt: time.Now(),
	}, nil
}

func (a *Adapter) QueryOrder(_ context.Context, txID string) (exchange.OrderQueryResult, error) {
	if a.QueryOrderFunc != nil {
		return a.QueryOrderFunc(txID)
	}
	return exchange.OrderQueryResult{Status: exchange.OrderQueryClosed}, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
