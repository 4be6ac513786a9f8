// Package strategy implements the pure decision function (C3): given a
// bot's configuration, its operational state and the latest market
// snapshot, decide whether to enter, exit or hold. Nothing in this
// package performs I/O or blocks.
package strategy

import (
	"time"

	"dcabot/internal/domain"

	"github.com/shopspring/decimal"
)

// retraceEpsilonPct is the trailing-stop-to-min-TP tolerance: once price
// has exceeded tpPrice, a retrace back to within this percentage above
// tpPrice also triggers exit.
const retraceEpsilonPct = 0.25

// State is the bot-side input to Decide: the subset of Bot plus
// in-flight order flags the scheduler already knows, so the engine
// itself never has to query the ledger.
type State struct {
	Status            domain.BotStatus
	CurrentEntryCount int
	LastEntryTime     time.Time
	LastEntryPrice    decimal.Decimal
	TotalInvested     decimal.Decimal
	TotalVolume       decimal.Decimal
	MaxPriceSinceTP   decimal.Decimal

	HasPendingBuy  bool
	HasPendingSell bool
}

// AverageEntryPrice mirrors domain.Bot.AverageEntryPrice for the subset
// of fields carried in State.
func (s State) AverageEntryPrice() decimal.Decimal {
	if s.TotalVolume.IsZero() {
		return decimal.Zero
	}
	return s.TotalInvested.Div(s.TotalVolume)
}

// Decide evaluates entry and exit rules and returns exactly one
// Enter/Exit/Hold decision. It never mutates its inputs and never blocks.
func Decide(cfg domain.BotConfig, state State, snapshot domain.MarketSnapshot, hasSnapshot bool, now time.Time) domain.Decision {
	if !hasSnapshot {
		return domain.Hold("no market data")
	}

	if exit, ok := evaluateExit(cfg, state, snapshot); ok {
		return exit
	}
	return evaluateEnter(cfg, state, snapshot, now)
}

func evaluateEnter(cfg domain.BotConfig, state State, snapshot domain.MarketSnapshot, now time.Time) domain.Decision {
	if state.Status != domain.BotStatusActive {
		return domain.Hold("bot not active")
	}
	if state.CurrentEntryCount >= cfg.ReEntryCount {
		return domain.Hold("max entries reached")
	}
	if state.HasPendingBuy {
		return domain.Hold("buy order in flight")
	}

	if state.CurrentEntryCount == 0 {
		if reason, ok := checkTrendAndSupport(cfg, snapshot); !ok {
			return domain.Hold(reason)
		}
	} else {
		nextStepPct := stepPercentForEntry(cfg, state.CurrentEntryCount)
		requiredPrice := state.LastEntryPrice.Mul(decimal.NewFromInt(1).Sub(nextStepPct.Div(decimal.NewFromInt(100))))
		if snapshot.Price.GreaterThan(requiredPrice) {
			return domain.Hold("awaiting step price")
		}
		if cfg.ReEntryDelayMinutes > 0 {
			elapsed := now.Sub(state.LastEntryTime)
			if elapsed < time.Duration(cfg.ReEntryDelayMinutes)*time.Minute {
				return domain.Hold("re-entry delay not elapsed")
			}
		}
		if reason, ok := checkTrendAndSupport(cfg, snapshot); !ok {
			return domain.Hold(reason)
		}
	}

	amount := cfg.InitialOrderAmount.Mul(powDecimal(cfg.TradeMultiplier, state.CurrentEntryCount))
	return domain.Enter(amount, "entry conditions satisfied")
}

// checkTrendAndSupport applies the trend-alignment and support/resistance
// gates shared by first-entry and re-entry evaluation.
func checkTrendAndSupport(cfg domain.BotConfig, snapshot domain.MarketSnapshot) (string, bool) {
	if cfg.TrendAlignmentEnabled {
		if snapshot.Recommendation != domain.RecommendationBullish {
			return "trend not bullish", false
		}
		if snapshot.TrendScore < 50 || snapshot.TechnicalScore < 50 {
			return "trend score below threshold", false
		}
	}
	if cfg.SupportResistanceEnabled {
		if !snapshot.HasSupport || snapshot.Price.GreaterThan(snapshot.Support) {
			return "awaiting support cross", false
		}
	}
	return "", true
}

// stepPercentForEntry computes stepPercent * stepMultiplier^(n-1) for the
// (n+1)-th entry, where n = currentEntryCount (n >= 1 here).
func stepPercentForEntry(cfg domain.BotConfig, currentEntryCount int) decimal.Decimal {
	return cfg.StepPercent.Mul(powDecimal(cfg.StepMultiplier, currentEntryCount-1))
}

func evaluateExit(cfg domain.BotConfig, state State, snapshot domain.MarketSnapshot) (domain.Decision, bool) {
	if state.CurrentEntryCount < 1 || state.TotalVolume.IsZero() {
		return domain.Decision{}, false
	}
	if state.HasPendingSell {
		return domain.Decision{}, false
	}

	avgEntry := state.AverageEntryPrice()
	tpPrice := avgEntry.Mul(decimal.NewFromInt(1).Add(cfg.TPTarget.Div(decimal.NewFromInt(100))))

	if snapshot.Price.LessThan(tpPrice) {
		return domain.Decision{}, false
	}

	trendTurning := cfg.TrendAlignmentEnabled && snapshot.Recommendation != domain.RecommendationBullish
	retraced := hasRetracedToMinTP(state, snapshot.Price, tpPrice)

	if !cfg.TrendAlignmentEnabled || trendTurning || retraced {
		exitPct := cfg.ExitPercent
		if exitPct.IsZero() {
			exitPct = decimal.NewFromInt(1)
		}
		return domain.Exit(exitPct, "take-profit reached"), true
	}
	return domain.Decision{}, false
}

// hasRetracedToMinTP implements the trailing-stop-to-min-TP rule: once
// price has exceeded tpPrice, a retrace back to within retraceEpsilonPct
// above tpPrice also triggers exit. state.MaxPriceSinceTP is maintained
// by the caller (the scheduler updates it whenever price exceeds tpPrice)
// and is zero until price first crosses tpPrice.
func hasRetracedToMinTP(state State, price, tpPrice decimal.Decimal) bool {
	if state.MaxPriceSinceTP.IsZero() || state.MaxPriceSinceTP.LessThan(tpPrice) {
		return false
	}
	epsilonBound := tpPrice.Mul(decimal.NewFromFloat(1 + retraceEpsilonPct/100))
	return price.LessThanOrEqual(epsilonBound) && price.GreaterThanOrEqual(tpPrice)
}

// powDecimal computes base^exp for small non-negative integer exponents.
func powDecimal(base decimal.Decimal, exp int) decimal.Decimal {
	if exp <= 0 {
		return decimal.NewFromInt(1)
	}
	result := decimal.NewFromInt(1)
	for i := 0; i < exp; i++ {
		result = result.Mul(base)
	}
	return result
}

// NextMaxPriceSinceTP returns the updated MaxPriceSinceTP value the
// scheduler should persist after observing price against tpPrice. It
// starts tracking once price first crosses tpPrice and otherwise keeps
// the running max.
func NextMaxPriceSinceTP(current, price, tpPrice decimal.Decimal) decimal.Decimal {
	if price.LessThan(tpPrice) {
		return decimal.Zero
	}
	if current.IsZero() || price.GreaterThan(current) {
		return price
	}
	return current
}
