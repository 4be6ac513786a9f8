package scheduler

import (
	"context"
	"testing"
	"time"

	"dcabot/internal/core"
	"dcabot/internal/domain"
	"dcabot/internal/exchange/mock"
	"dcabot/internal/ledger"
	"dcabot/internal/marketview"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                  {}
func (noopLogger) Info(string, ...interface{})                   {}
func (noopLogger) Warn(string, ...interface{})                   {}
func (noopLogger) Error(string, ...interface{})                  {}
func (noopLogger) Fatal(string, ...interface{})                  {}
func (n noopLogger) WithField(string, interface{}) core.Logger   { return n }
func (n noopLogger) WithFields(map[string]interface{}) core.Logger { return n }

func newTestStore(t *testing.T) *ledger.SQLiteStore {
	t.Helper()
	store, err := ledger.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newScheduler(t *testing.T, store ledger.Store, view *marketview.View, adapter *mock.Adapter) *Scheduler {
	t.Helper()
	return New(Config{
		Period:         time.Minute,
		Concurrency:    4,
		RunTimeout:     time.Second,
		StaleThreshold: time.Hour,
		FeeBuffer:      0.002,
	}, store, view, adapter, core.SystemClock{}, noopLogger{})
}

func TestScheduler_EntersWhenStrategySaysSo(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bot, err := store.CreateBot(ctx, domain.Bot{
		Status: domain.BotStatusActive,
		Config: domain.BotConfig{
			Symbol:             "BTC/USD",
			InitialOrderAmount: decimal.NewFromInt(100),
			TradeMultiplier:    decimal.NewFromInt(2),
			ReEntryCount:       3,
			StepPercent:        decimal.NewFromInt(5),
			StepMultiplier:     decimal.NewFromFloat(1.5),
			TPTarget:           decimal.NewFromInt(10),
			ExitPercent:        decimal.NewFromInt(1),
		},
	})
	require.NoError(t, err)

	view := marketview.New()
	view.Put(domain.MarketSnapshot{Symbol: "BTC/USD", Price: decimal.NewFromInt(50000), UpdatedAt: time.Now()})

	adapter := mock.New()
	adapter.Pairs["BTC/USD"] = "XXBTZUSD"

	s := newScheduler(t, store, view, adapter)
	reason := s.evaluateBot(ctx, bot, "run-1")
	assert.Equal(t, "entered", reason)

	hasBuy, err := store.HasInFlightOrder(ctx, bot.ID, domain.OrderSideBuy)
	require.NoError(t, err)
	assert.True(t, hasBuy)
}

func TestScheduler_HoldsWithStaleMarketData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bot, err := store.CreateBot(ctx, domain.Bot{
		Status: domain.BotStatusActive,
		Config: domain.BotConfig{Symbol: "BTC/USD", InitialOrderAmount: decimal.NewFromInt(100), TradeMultiplier: decimal.NewFromInt(2), ReEntryCount: 3},
	})
	require.NoError(t, err)

	view := marketview.New() // no snapshot at all
	adapter := mock.New()

	s := newScheduler(t, store, view, adapter)
	reason := s.evaluateBot(ctx, bot, "run-1")
	assert.Equal(t, "no market data", reason)
}

func TestScheduler_ExitsAndTransitionsBotToExiting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bot, err := store.CreateBot(ctx, domain.Bot{
		Status:            domain.BotStatusActive,
		CurrentEntryCount: 1,
		TotalInvested:     decimal.NewFromInt(100),
		TotalVolume:       decimal.NewFromFloat(0.002), // avg entry 50000
		Config: domain.BotConfig{
			Symbol:       "BTC/USD",
			ReEntryCount: 3,
			TPTarget:     decimal.NewFromInt(10),
			ExitPercent:  decimal.NewFromInt(1),
		},
	})
	require.NoError(t, err)

	view := marketview.New()
	view.Put(domain.MarketSnapshot{Symbol: "BTC/USD", Price: decimal.NewFromInt(56000), UpdatedAt: time.Now()})

	adapter := mock.New()
	adapter.Pairs["BTC/USD"] = "XXBTZUSD"
	adapter.Balances["XXBT"] = decimal.NewFromFloat(0.002)
	adapter.Precisions["XXBT"] = 8
	adapter.MinSizes["XXBTZUSD"] = decimal.NewFromFloat(0.0001)

	s := newScheduler(t, store, view, adapter)
	reason := s.evaluateBot(ctx, bot, "run-1")
	assert.Equal(t, "exited", reason)

	got, err := store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BotStatusExiting, got.Status)
}

func TestScheduler_SkipsWhenOrderAlreadyInFlight(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bot, err := store.CreateBot(ctx, domain.Bot{
		Status: domain.BotStatusActive,
		Config: domain.BotConfig{Symbol: "BTC/USD", InitialOrderAmount: decimal.NewFromInt(100), TradeMultiplier: decimal.NewFromInt(2), ReEntryCount: 3},
	})
	require.NoError(t, err)
	_, err = store.AppendPendingOrder(ctx, domain.PendingOrder{BotID: bot.ID, Side: domain.OrderSideBuy})
	require.NoError(t, err)

	view := marketview.New()
	view.Put(domain.MarketSnapshot{Symbol: "BTC/USD", Price: decimal.NewFromInt(50000), UpdatedAt: time.Now()})
	adapter := mock.New()
	adapter.Pairs["BTC/USD"] = "XXBTZUSD"

	s := newScheduler(t, store, view, adapter)
	reason := s.evaluateBot(ctx, bot, "run-1")
	assert.Equal(t, "order in flight", reason)
}

func TestScheduler_Tick_EmitsBuyForActiveBot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateBot(ctx, domain.Bot{
		Status: domain.BotStatusActive,
		Config: domain.BotConfig{Symbol: "BTC/USD", InitialOrderAmount: decimal.NewFromInt(100), TradeMultiplier: decimal.NewFromInt(2), ReEntryCount: 3},
	})
	require.NoError(t, err)

	view := marketview.New()
	view.Put(domain.MarketSnapshot{Symbol: "BTC/USD", Price: decimal.NewFromInt(50000), UpdatedAt: time.Now()})
	adapter := mock.New()
	adapter.Pairs["BTC/USD"] = "XXBTZUSD"

	s := newScheduler(t, store, view, adapter)
	s.tick(ctx)

	bots, err := store.ActiveBots(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 1)
	hasBuy, err := store.HasInFlightOrder(ctx, bots[0].ID, domain.OrderSideBuy)
	require.NoError(t, err)
	assert.True(t, hasBuy)
}
