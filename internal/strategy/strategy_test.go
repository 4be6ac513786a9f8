package strategy

import (
	"testing"
	"time"

	"dcabot/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func baseConfig() domain.BotConfig {
	return domain.BotConfig{
		Symbol:             "BTC/USD",
		InitialOrderAmount: dec("100"),
		TradeMultiplier:    dec("2"),
		ReEntryCount:       3,
		StepPercent:        dec("5"),
		StepMultiplier:     dec("1.5"),
		TPTarget:           dec("10"),
		ExitPercent:        dec("1"),
	}
}

func freshSnapshot(price string) (domain.MarketSnapshot, bool) {
	return domain.MarketSnapshot{
		Symbol:         "BTC/USD",
		Price:          dec(price),
		Recommendation: domain.RecommendationNeutral,
		UpdatedAt:      time.Now(),
	}, true
}

// S1: no market data holds regardless of everything else.
func TestDecide_NoSnapshotHolds(t *testing.T) {
	cfg := baseConfig()
	decision := Decide(cfg, State{Status: domain.BotStatusActive}, domain.MarketSnapshot{}, false, time.Now())
	require.Equal(t, domain.DecisionHold, decision.Kind)
	assert.Equal(t, "no market data", decision.Reason)
}

// S2: first entry with no gating enabled enters at the base amount.
func TestDecide_FirstEntryEnters(t *testing.T) {
	cfg := baseConfig()
	snapshot, ok := freshSnapshot("50000")
	decision := Decide(cfg, State{Status: domain.BotStatusActive}, snapshot, ok, time.Now())
	require.Equal(t, domain.DecisionEnter, decision.Kind)
	assert.True(t, decision.Amount.Equal(dec("100")))
}

// S3: re-entry amount scales by tradeMultiplier^currentEntryCount.
func TestDecide_ReEntryScalesAmount(t *testing.T) {
	cfg := baseConfig()
	now := time.Now()
	state := State{
		Status:            domain.BotStatusActive,
		CurrentEntryCount: 1,
		LastEntryTime:     now.Add(-time.Hour),
		LastEntryPrice:    dec("50000"),
		TotalInvested:     dec("100"),
		TotalVolume:       dec("0.002"),
	}
	// step percent for entry 2 is stepPercent (5%), so a price drop to
	// 47500 or below satisfies the gate.
	snapshot, ok := freshSnapshot("47000")
	decision := Decide(cfg, state, snapshot, ok, now)
	require.Equal(t, domain.DecisionEnter, decision.Kind)
	assert.True(t, decision.Amount.Equal(dec("200")), "expected 100*2^1=200, got %s", decision.Amount)
}

// re-entry above the step-price gate holds.
func TestDecide_ReEntryAwaitingStepPriceHolds(t *testing.T) {
	cfg := baseConfig()
	now := time.Now()
	state := State{
		Status:            domain.BotStatusActive,
		CurrentEntryCount: 1,
		LastEntryTime:     now.Add(-time.Hour),
		LastEntryPrice:    dec("50000"),
		TotalInvested:     dec("100"),
		TotalVolume:       dec("0.002"),
	}
	snapshot, ok := freshSnapshot("49000") // above the 47500 step gate
	decision := Decide(cfg, state, snapshot, ok, now)
	require.Equal(t, domain.DecisionHold, decision.Kind)
	assert.Equal(t, "awaiting step price", decision.Reason)
}

// re-entry delay not yet elapsed holds even when price has stepped down.
func TestDecide_ReEntryDelayNotElapsedHolds(t *testing.T) {
	cfg := baseConfig()
	cfg.ReEntryDelayMinutes = 60
	now := time.Now()
	state := State{
		Status:            domain.BotStatusActive,
		CurrentEntryCount: 1,
		LastEntryTime:     now.Add(-5 * time.Minute),
		LastEntryPrice:    dec("50000"),
		TotalInvested:     dec("100"),
		TotalVolume:       dec("0.002"),
	}
	snapshot, ok := freshSnapshot("47000")
	decision := Decide(cfg, state, snapshot, ok, now)
	require.Equal(t, domain.DecisionHold, decision.Kind)
	assert.Equal(t, "re-entry delay not elapsed", decision.Reason)
}

// max entries reached holds.
func TestDecide_MaxEntriesReachedHolds(t *testing.T) {
	cfg := baseConfig()
	state := State{Status: domain.BotStatusActive, CurrentEntryCount: cfg.ReEntryCount}
	snapshot, ok := freshSnapshot("10000")
	decision := Decide(cfg, state, snapshot, ok, time.Now())
	require.Equal(t, domain.DecisionHold, decision.Kind)
	assert.Equal(t, "max entries reached", decision.Reason)
}

// a buy already in flight holds instead of double-entering.
func TestDecide_PendingBuyHolds(t *testing.T) {
	cfg := baseConfig()
	state := State{Status: domain.BotStatusActive, HasPendingBuy: true}
	snapshot, ok := freshSnapshot("50000")
	decision := Decide(cfg, state, snapshot, ok, time.Now())
	require.Equal(t, domain.DecisionHold, decision.Kind)
	assert.Equal(t, "buy order in flight", decision.Reason)
}

// trend alignment gates the first entry when not bullish.
func TestDecide_TrendAlignmentBlocksEntry(t *testing.T) {
	cfg := baseConfig()
	cfg.TrendAlignmentEnabled = true
	state := State{Status: domain.BotStatusActive}
	snapshot, ok := freshSnapshot("50000")
	snapshot.Recommendation = domain.RecommendationBearish
	decision := Decide(cfg, state, snapshot, ok, time.Now())
	require.Equal(t, domain.DecisionHold, decision.Kind)
	assert.Equal(t, "trend not bullish", decision.Reason)
}

// support/resistance gates the first entry until price crosses support.
func TestDecide_SupportResistanceBlocksEntry(t *testing.T) {
	cfg := baseConfig()
	cfg.SupportResistanceEnabled = true
	state := State{Status: domain.BotStatusActive}
	snapshot, ok := freshSnapshot("50000")
	snapshot.HasSupport = true
	snapshot.Support = dec("48000")
	decision := Decide(cfg, state, snapshot, ok, time.Now())
	require.Equal(t, domain.DecisionHold, decision.Kind)
	assert.Equal(t, "awaiting support cross", decision.Reason)
}

// S4: take-profit reached with trend alignment disabled exits immediately.
func TestDecide_ExitsAtTakeProfit(t *testing.T) {
	cfg := baseConfig()
	state := State{
		Status:            domain.BotStatusActive,
		CurrentEntryCount: 1,
		TotalInvested:     dec("100"),
		TotalVolume:       dec("0.002"), // avg entry = 50000
	}
	snapshot, ok := freshSnapshot("55001") // >= 10% above avg entry
	decision := Decide(cfg, state, snapshot, ok, time.Now())
	require.Equal(t, domain.DecisionExit, decision.Kind)
	assert.True(t, decision.Fraction.Equal(dec("1")))
}

// below take-profit holds (no exit, no entry since max re-entry gate not relevant here).
func TestDecide_BelowTakeProfitHolds(t *testing.T) {
	cfg := baseConfig()
	state := State{
		Status:            domain.BotStatusActive,
		CurrentEntryCount: 1,
		TotalInvested:     dec("100"),
		TotalVolume:       dec("0.002"),
	}
	snapshot, ok := freshSnapshot("50500")
	decision := Decide(cfg, state, snapshot, ok, time.Now())
	require.Equal(t, domain.DecisionHold, decision.Kind)
}

// when trend alignment is enabled, exit only fires once the trend turns or
// price has retraced back down to the min-TP band after running up.
func TestDecide_TrendAlignedExitWaitsForTrendTurnOrRetrace(t *testing.T) {
	cfg := baseConfig()
	cfg.TrendAlignmentEnabled = true
	state := State{
		Status:            domain.BotStatusActive,
		CurrentEntryCount: 1,
		TotalInvested:     dec("100"),
		TotalVolume:       dec("0.002"),
	}
	snapshot, ok := freshSnapshot("60000")
	snapshot.Recommendation = domain.RecommendationBullish
	decision := Decide(cfg, state, snapshot, ok, time.Now())
	require.Equal(t, domain.DecisionHold, decision.Kind, "still bullish and no retrace yet: keep riding")

	// trend turns bearish: exit fires even above tpPrice.
	snapshot.Recommendation = domain.RecommendationBearish
	decision = Decide(cfg, state, snapshot, ok, time.Now())
	require.Equal(t, domain.DecisionExit, decision.Kind)
}

// a retrace back down into the min-TP band after running up exits even
// while trend alignment is enabled and still nominally bullish.
func TestDecide_RetraceToMinTPExits(t *testing.T) {
	cfg := baseConfig()
	cfg.TrendAlignmentEnabled = true
	tpPrice := dec("55000") // avg 50000 * 1.10
	state := State{
		Status:            domain.BotStatusActive,
		CurrentEntryCount: 1,
		TotalInvested:     dec("100"),
		TotalVolume:       dec("0.002"),
		MaxPriceSinceTP:   dec("60000"),
	}
	snapshot, ok := freshSnapshot("55100") // within 0.25% above tpPrice
	snapshot.Recommendation = domain.RecommendationBullish
	decision := Decide(cfg, state, snapshot, ok, time.Now())
	require.Equal(t, domain.DecisionExit, decision.Kind)
	_ = tpPrice
}

// no volume yet: exit never fires even above a notional take-profit price.
func TestDecide_NoVolumeNeverExits(t *testing.T) {
	cfg := baseConfig()
	state := State{Status: domain.BotStatusActive, CurrentEntryCount: 0}
	snapshot, ok := freshSnapshot("1000000")
	decision := Decide(cfg, state, snapshot, ok, time.Now())
	require.Equal(t, domain.DecisionEnter, decision.Kind, "zero volume means only entry is ever evaluated")
}

// a sell already in flight holds instead of double-exiting.
func TestDecide_PendingSellHolds(t *testing.T) {
	cfg := baseConfig()
	state := State{
		Status:            domain.BotStatusActive,
		CurrentEntryCount: 1,
		TotalInvested:     dec("100"),
		TotalVolume:       dec("0.002"),
		HasPendingSell:    true,
	}
	snapshot, ok := freshSnapshot("60000")
	decision := Decide(cfg, state, snapshot, ok, time.Now())
	require.Equal(t, domain.DecisionHold, decision.Kind)
}

func TestNextMaxPriceSinceTP(t *testing.T) {
	tpPrice := dec("55000")

	// below tpPrice resets tracking to zero.
	assert.True(t, NextMaxPriceSinceTP(dec("56000"), dec("54000"), tpPrice).IsZero())

	// first crossing starts tracking at the current price.
	got := NextMaxPriceSinceTP(decimal.Zero, dec("56000"), tpPrice)
	assert.True(t, got.Equal(dec("56000")))

	// a new high replaces the running max.
	got = NextMaxPriceSinceTP(dec("56000"), dec("57000"), tpPrice)
	assert.True(t, got.Equal(dec("57000")))

	// a dip that stays above tpPrice keeps the running max.
	got = NextMaxPriceSinceTP(dec("57000"), dec("56500"), tpPrice)
	assert.True(t, got.Equal(dec("57000")))
}

func TestStateAverageEntryPrice(t *testing.T) {
	s := State{TotalInvested: dec("300"), TotalVolume: dec("0.01")}
	assert.True(t, s.AverageEntryPrice().Equal(dec("30000")))

	zero := State{}
	assert.True(t, zero.AverageEntryPrice().IsZero())
}
