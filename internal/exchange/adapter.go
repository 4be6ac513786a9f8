// Package exchange defines the ExchangeAdapter contract (C1): the single
// wire boundary the rest of the control plane uses to normalize symbols,
// apply precision, place/query orders and read balances and OHLC data.
package exchange

import (
	"context"
	"time"

	"dcabot/internal/domain"

	"github.com/shopspring/decimal"
)

// Ticker is the latest quote for a pair.
type Ticker struct {
	Price decimal.Decimal
	Bid   decimal.Decimal
	Ask   decimal.Decimal
	Ts    time.Time
}

// Candle is one OHLC bar.
type Candle struct {
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// OrderFlags carries the fee-currency flags §4.1/§6 requires: buys pay fee
// in the base currency, sells pay fee in the quote currency.
type OrderFlags struct {
	FeeInBase  bool
	FeeInQuote bool
}

// PlaceOrderRequest is the normalized order submission the executor sends
// to the adapter.
type PlaceOrderRequest struct {
	Pair   string
	Side   domain.OrderSide
	Type   domain.OrderType
	Volume decimal.Decimal
	Price  decimal.Decimal // zero value: unset, required for limit orders
	Flags  OrderFlags
}

// PlaceOrderResult is returned when the exchange accepts an order.
type PlaceOrderResult struct {
	TxID       string
	AcceptedAt time.Time
}

// OrderQueryStatus is the terminal/non-terminal state reported by
// queryOrder.
type OrderQueryStatus string

const (
	OrderQueryOpen     OrderQueryStatus = "open"
	OrderQueryClosed   OrderQueryStatus = "closed"
	OrderQueryCanceled OrderQueryStatus = "canceled"
	OrderQueryExpired  OrderQueryStatus = "expired"
)

// OrderQueryResult is the result of querying an order's state.
type OrderQueryResult struct {
	Status         OrderQueryStatus
	ExecutedVolume decimal.Decimal
	Cost           decimal.Decimal
	Fee            decimal.Decimal
}

// Adapter is the capability set required by the rest of the system from
// any concrete exchange integration (§4.1).
type Adapter interface {
	// NormalizePair maps a display symbol (e.g. "BTC/USD") to the
	// exchange's own pair code. Unknown symbols fail fast with a
	// *apperrors.ExchangeError of kind KindUnknownPair.
	NormalizePair(displaySymbol string) (string, error)

	// AssetPrecision returns the number of decimals the exchange accepts
	// for quantities of asset.
	AssetPrecision(asset string) (int32, error)

	// MinOrderSize returns the minimum order quantity for pair.
	MinOrderSize(pair string) (decimal.Decimal, error)

	// BaseAssetCode returns the exchange's native asset code for the base
	// currency of pair (e.g. "XXBT" for the BTC leg of XXBTZUSD), used to
	// key GetBalance's result map.
	BaseAssetCode(pair string) (string, error)

	GetTicker(ctx context.Context, pair string) (Ticker, error)
	GetOHLC(ctx context.Context, pair string, interval time.Duration) ([]Candle, error)

	// GetBalance returns balances merged with any cached WebSocket view:
	// if the REST response is zero for an asset present in the cache, the
	// cached value is used (§4.1).
	GetBalance(ctx context.Context) (map[string]decimal.Decimal, error)

	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error)
	QueryOrder(ctx context.Context, txID string) (OrderQueryResult, error)
}
