// Package domain holds the typed aggregates the rest of the bot control
// plane operates on: Bot, Entry, Cycle and PendingOrder, plus the market
// snapshot and decision values that flow between components.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BotStatus is the lifecycle state of a Bot.
type BotStatus string

const (
	BotStatusActive    BotStatus = "active"
	BotStatusPaused    BotStatus = "paused"
	BotStatusExiting   BotStatus = "exiting"
	BotStatusCompleted BotStatus = "completed"
	BotStatusStopped   BotStatus = "stopped"
)

// EntryStatus is the lifecycle state of an Entry.
type EntryStatus string

const (
	EntryStatusPending EntryStatus = "pending"
	EntryStatusFilled  EntryStatus = "filled"
	EntryStatusFailed  EntryStatus = "failed"
)

// EntrySource distinguishes entries created by this control plane from
// entries synced in from exchange trade history.
type EntrySource string

const (
	EntrySourceBotExecution EntrySource = "bot_execution"
	EntrySourceExternalSync EntrySource = "external_sync"
)

// OrderSide is the side of an order or pending order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the order type submitted to the exchange.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// PendingOrderStatus is the lifecycle state of a PendingOrder row.
type PendingOrderStatus string

const (
	PendingOrderStatusPending    PendingOrderStatus = "pending"
	PendingOrderStatusProcessing PendingOrderStatus = "processing"
	PendingOrderStatusCompleted  PendingOrderStatus = "completed"
	PendingOrderStatusFailed     PendingOrderStatus = "failed"
	PendingOrderStatusRetry      PendingOrderStatus = "retry"
)

// Recommendation is the directional call the technical-analysis provider
// attaches to a market snapshot.
type Recommendation string

const (
	RecommendationBullish Recommendation = "bullish"
	RecommendationBearish Recommendation = "bearish"
	RecommendationNeutral Recommendation = "neutral"
)

// BotConfig is the immutable-unless-paused configuration of a bot.
type BotConfig struct {
	Symbol                   string
	InitialOrderAmount       decimal.Decimal // USD
	TradeMultiplier          decimal.Decimal // >= 1
	ReEntryCount             int             // max entries per cycle, >= 1
	StepPercent              decimal.Decimal // initial drop %
	StepMultiplier           decimal.Decimal // step growth
	TPTarget                 decimal.Decimal // % above average cost
	SupportResistanceEnabled bool
	ReEntryDelayMinutes      int
	TrendAlignmentEnabled    bool
	ExitPercent              decimal.Decimal // fraction of holdings sold on exit, default 1.0
}

// ClosedCycle is the immutable summary appended to Bot.PreviousCycles when
// a cycle closes.
type ClosedCycle struct {
	CycleID     string
	CycleNumber int
	StartTime   time.Time
	EndTime     time.Time
	Invested    decimal.Decimal
	Recovered   decimal.Decimal
	RealizedPnL decimal.Decimal
}

// Bot is one user's automated DCA strategy for one trading pair:
// configuration plus mutable operational state.
type Bot struct {
	ID     string
	UserID string
	Config BotConfig

	Status            BotStatus
	CurrentEntryCount int
	TotalInvested     decimal.Decimal
	TotalVolume       decimal.Decimal
	CycleID           string
	CycleNumber       int
	CycleStartTime    time.Time
	PreviousCycles    []ClosedCycle

	LastEntryTime  time.Time
	LastEntryPrice decimal.Decimal
	LastExitTime   time.Time
	LastExitPrice  decimal.Decimal

	// MaxPriceSinceTP tracks the highest price observed since price first
	// crossed the current cycle's TP price, to support the trailing-stop-
	// to-min-TP exit rule. Zero when price has not yet crossed TP.
	MaxPriceSinceTP decimal.Decimal

	LastFailedExitReason string
	LastFailedExitTime   time.Time

	UpdatedAt time.Time
}

// AverageEntryPrice is totalInvested/totalVolume, 0 when totalVolume is 0.
func (b *Bot) AverageEntryPrice() decimal.Decimal {
	if b.TotalVolume.IsZero() {
		return decimal.Zero
	}
	return b.TotalInvested.Div(b.TotalVolume)
}

// Entry is a single filled (or attempted) buy within a cycle, owned by Bot.
type Entry struct {
	ID          string
	BotID       string
	CycleID     string
	CycleNumber int
	EntryNumber int // 1-based within the cycle
	OrderAmount decimal.Decimal
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Timestamp   time.Time
	OrderID     string
	Status      EntryStatus
	Source      EntrySource
}

// PendingOrder is an intent/in-flight row in the persistent order queue.
type PendingOrder struct {
	ID             string
	BotID          string
	UserID         string
	Symbol         string
	NormalizedPair string
	Side           OrderSide
	Type           OrderType
	Volume         decimal.Decimal // base units, precision-adjusted
	Price          decimal.Decimal // zero value means unset (market order)
	Status         PendingOrderStatus
	Attempts       int
	MaxAttempts    int
	NextRetryAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastError      string
	Errors         []string
	TxID           string
}

// MarketSnapshot is the last-known market state for a symbol, maintained
// by the market data refresher.
type MarketSnapshot struct {
	Symbol         string
	Price          decimal.Decimal
	TrendScore     float64
	TechnicalScore float64
	Recommendation Recommendation
	Support        decimal.Decimal
	HasSupport     bool
	Resistance     decimal.Decimal
	HasResistance  bool
	UpdatedAt      time.Time
}

// DecisionKind tags which arm of Decision is populated.
type DecisionKind string

const (
	DecisionEnter DecisionKind = "enter"
	DecisionExit  DecisionKind = "exit"
	DecisionHold  DecisionKind = "hold"
)

// Decision is the StrategyEngine's pure output: exactly one of Enter, Exit
// or Hold.
type Decision struct {
	Kind     DecisionKind
	Reason   string
	Amount   decimal.Decimal // Enter: USD amount to spend
	Fraction decimal.Decimal // Exit: fraction of holdings to sell
}

func Enter(amount decimal.Decimal, reason string) Decision {
	return Decision{Kind: DecisionEnter, Amount: amount, Reason: reason}
}

func Exit(fraction decimal.Decimal, reason string) Decision {
	return Decision{Kind: DecisionExit, Fraction: fraction, Reason: reason}
}

func Hold(reason string) Decision {
	return Decision{Kind: DecisionHold, Reason: reason}
}

// BotExecution is an audit row written by the scheduler for every enter,
// exit or hold outcome on a bot (skips are recorded as holds). An
// evaluation that ends in a store or adapter error, or in an append
// conflict, writes no row.
type BotExecution struct {
	ID        string
	BotID     string
	RunID     string
	Decision  DecisionKind
	Reason    string
	Timestamp time.Time
}

// RunSummary is the observability record written by the bot scheduler at
// the end of every run.
type RunSummary struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	TotalBots    int
	Processed    int
	Enters       int
	Exits        int
	Skipped      int
	Failed       int
	ReasonCounts map[string]int
	Details      []string
	TimedOut     bool
}
