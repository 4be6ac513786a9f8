package ledger

import (
	"context"
	"testing"
	"time"

	"dcabot/internal/domain"
	"dcabot/pkg/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedActiveBot(t *testing.T, store *SQLiteStore, symbol string) domain.Bot {
	t.Helper()
	bot, err := store.CreateBot(context.Background(), domain.Bot{
		UserID: "user-1",
		Config: domain.BotConfig{Symbol: symbol},
		Status: domain.BotStatusActive,
	})
	require.NoError(t, err)
	return bot
}

func TestAppendPendingOrder_ConflictDetection(t *testing.T) {
	store := newTestStore(t)
	bot := seedActiveBot(t, store, "BTC/USD")
	ctx := context.Background()

	_, err := store.AppendPendingOrder(ctx, domain.PendingOrder{BotID: bot.ID, Side: domain.OrderSideBuy})
	require.NoError(t, err)

	_, err = store.AppendPendingOrder(ctx, domain.PendingOrder{BotID: bot.ID, Side: domain.OrderSideBuy})
	require.ErrorIs(t, err, apperrors.ErrConflictingOrder)

	// A sell-side order for the same bot is not a conflict with a pending buy.
	_, err = store.AppendPendingOrder(ctx, domain.PendingOrder{BotID: bot.ID, Side: domain.OrderSideSell})
	assert.NoError(t, err)
}

func TestTransitionToExiting_MovesBotAndAppendsSellOrder(t *testing.T) {
	store := newTestStore(t)
	bot := seedActiveBot(t, store, "BTC/USD")
	ctx := context.Background()

	order, err := store.TransitionToExiting(ctx, bot.ID, domain.PendingOrder{Side: domain.OrderSideSell})
	require.NoError(t, err)
	assert.Equal(t, domain.PendingOrderStatusPending, order.Status)

	got, err := store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BotStatusExiting, got.Status)

	_, err = store.TransitionToExiting(ctx, bot.ID, domain.PendingOrder{Side: domain.OrderSideSell})
	assert.ErrorIs(t, err, apperrors.ErrConflictingOrder)
}

func TestClaimNextDuePendingOrder_OnlyDueRowsClaimed(t *testing.T) {
	store := newTestStore(t)
	bot := seedActiveBot(t, store, "BTC/USD")
	ctx := context.Background()
	now := time.Now()

	_, err := store.AppendPendingOrder(ctx, domain.PendingOrder{BotID: bot.ID, Side: domain.OrderSideBuy, NextRetryAt: now.Add(time.Hour)})
	require.NoError(t, err)

	_, ok, err := store.ClaimNextDuePendingOrder(ctx, now)
	require.NoError(t, err)
	assert.False(t, ok, "order not due yet must not be claimed")

	claimed, ok, err := store.ClaimNextDuePendingOrder(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PendingOrderStatusProcessing, claimed.Status)

	_, ok, err = store.ClaimNextDuePendingOrder(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "already-claimed order must not be claimed twice")
}

func TestRecordFill_Buy_UpdatesBotAggregates(t *testing.T) {
	store := newTestStore(t)
	bot := seedActiveBot(t, store, "BTC/USD")
	ctx := context.Background()

	order, err := store.AppendPendingOrder(ctx, domain.PendingOrder{BotID: bot.ID, Side: domain.OrderSideBuy})
	require.NoError(t, err)

	err = store.RecordFill(ctx, order, FillResult{
		TxID:           "tx-1",
		ExecutedVolume: decimal.NewFromFloat(0.002),
		ExecutedCost:   decimal.NewFromInt(100),
		Fee:            decimal.NewFromFloat(0.26),
		Timestamp:      time.Now(),
	})
	require.NoError(t, err)

	got, err := store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentEntryCount)
	assert.True(t, got.TotalInvested.Equal(decimal.NewFromInt(100)))
	assert.True(t, got.TotalVolume.Equal(decimal.NewFromFloat(0.002)))
}

func TestRecordFill_IsIdempotentPerTxID(t *testing.T) {
	store := newTestStore(t)
	bot := seedActiveBot(t, store, "BTC/USD")
	ctx := context.Background()

	order, err := store.AppendPendingOrder(ctx, domain.PendingOrder{BotID: bot.ID, Side: domain.OrderSideBuy})
	require.NoError(t, err)

	fill := FillResult{
		TxID:           "tx-dup",
		ExecutedVolume: decimal.NewFromFloat(0.002),
		ExecutedCost:   decimal.NewFromInt(100),
		Timestamp:      time.Now(),
	}
	require.NoError(t, store.RecordFill(ctx, order, fill))
	require.NoError(t, store.RecordFill(ctx, order, fill)) // replay must be a no-op

	got, err := store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentEntryCount, "replaying the same fill must not double-apply")
	assert.True(t, got.TotalInvested.Equal(decimal.NewFromInt(100)))
}

func TestRecordFill_Sell_ClosesCycleAndResetsAggregates(t *testing.T) {
	store := newTestStore(t)
	bot := seedActiveBot(t, store, "BTC/USD")
	ctx := context.Background()

	buyOrder, err := store.AppendPendingOrder(ctx, domain.PendingOrder{BotID: bot.ID, Side: domain.OrderSideBuy})
	require.NoError(t, err)
	require.NoError(t, store.RecordFill(ctx, buyOrder, FillResult{
		TxID: "buy-1", ExecutedVolume: decimal.NewFromFloat(0.002), ExecutedCost: decimal.NewFromInt(100), Timestamp: time.Now(),
	}))

	sellOrder, err := store.TransitionToExiting(ctx, bot.ID, domain.PendingOrder{Side: domain.OrderSideSell})
	require.NoError(t, err)

	require.NoError(t, store.RecordFill(ctx, sellOrder, FillResult{
		TxID: "sell-1", ExecutedVolume: decimal.NewFromFloat(0.002), ExecutedCost: decimal.NewFromInt(110), Fee: decimal.NewFromInt(1), Timestamp: time.Now(),
	}))

	got, err := store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BotStatusActive, got.Status)
	assert.Equal(t, 0, got.CurrentEntryCount)
	assert.True(t, got.TotalInvested.IsZero())
	assert.True(t, got.TotalVolume.IsZero())
	require.Len(t, got.PreviousCycles, 1)
	assert.True(t, got.PreviousCycles[0].RealizedPnL.Equal(decimal.NewFromInt(9)), "recovered(109) - invested(100) = 9")
}

func TestMarkOrderFailed_RevertsExitingBotToActive(t *testing.T) {
	store := newTestStore(t)
	bot := seedActiveBot(t, store, "BTC/USD")
	ctx := context.Background()

	sellOrder, err := store.TransitionToExiting(ctx, bot.ID, domain.PendingOrder{Side: domain.OrderSideSell})
	require.NoError(t, err)

	require.NoError(t, store.MarkOrderFailed(ctx, sellOrder.ID, "exchange rejected order"))

	got, err := store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BotStatusActive, got.Status)
	assert.Equal(t, "exchange rejected order", got.LastFailedExitReason)
}

func TestMarkOrderRetry_IncrementsAttemptsAndSchedulesNext(t *testing.T) {
	store := newTestStore(t)
	bot := seedActiveBot(t, store, "BTC/USD")
	ctx := context.Background()

	order, err := store.AppendPendingOrder(ctx, domain.PendingOrder{BotID: bot.ID, Side: domain.OrderSideBuy})
	require.NoError(t, err)

	next := time.Now().Add(time.Minute)
	require.NoError(t, store.MarkOrderRetry(ctx, order.ID, "rate limited", next))

	stuck, err := store.StuckProcessingOrders(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stuck, "retry-status orders are not processing orders")

	_, due, err := store.ClaimNextDuePendingOrder(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, due, "the retry is not due before nextRetryAt")

	claimed, due, err := store.ClaimNextDuePendingOrder(ctx, next.Add(time.Second))
	require.NoError(t, err)
	require.True(t, due)
	assert.Equal(t, 1, claimed.Attempts)
}

func TestStuckProcessingOrders(t *testing.T) {
	store := newTestStore(t)
	bot := seedActiveBot(t, store, "BTC/USD")
	ctx := context.Background()

	_, err := store.AppendPendingOrder(ctx, domain.PendingOrder{BotID: bot.ID, Side: domain.OrderSideBuy, NextRetryAt: time.Time{}})
	require.NoError(t, err)

	claimed, ok, err := store.ClaimNextDuePendingOrder(ctx, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	stuck, err := store.StuckProcessingOrders(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, claimed.ID, stuck[0].ID)

	stuck, err = store.StuckProcessingOrders(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stuck, "olderThan in the past excludes just-claimed orders")
}

func TestUpdateMaxPriceSinceTP(t *testing.T) {
	store := newTestStore(t)
	bot := seedActiveBot(t, store, "BTC/USD")
	ctx := context.Background()

	require.NoError(t, store.UpdateMaxPriceSinceTP(ctx, bot.ID, decimal.NewFromInt(60000)))

	got, err := store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.True(t, got.MaxPriceSinceTP.Equal(decimal.NewFromInt(60000)))
}

func TestActiveBots_ExcludesNonActiveStatuses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	active := seedActiveBot(t, store, "BTC/USD")
	_, err := store.CreateBot(ctx, domain.Bot{Status: domain.BotStatusPaused, Config: domain.BotConfig{Symbol: "ETH/USD"}})
	require.NoError(t, err)

	bots, err := store.ActiveBots(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, active.ID, bots[0].ID)
}

func TestGetBot_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetBot(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrBotNotFound)
}

func TestRecordExecutionAndRunSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordExecution(ctx, domain.BotExecution{BotID: "b1", Decision: domain.DecisionHold}))
	require.NoError(t, store.RecordRunSummary(ctx, domain.RunSummary{RunID: "r1", TotalBots: 1}))
}
