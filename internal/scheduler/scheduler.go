// Package scheduler implements the Bot Scheduler (C5): a periodic loop
// over active bots that evaluates the strategy engine and emits pending
// orders. It never places or queries orders on the exchange itself.
package scheduler

import (
	"context"
	"time"

	"dcabot/internal/core"
	"dcabot/internal/domain"
	"dcabot/internal/exchange"
	"dcabot/internal/ledger"
	"dcabot/internal/marketview"
	"dcabot/internal/strategy"
	"dcabot/pkg/apperrors"
	"dcabot/pkg/concurrency"
	"dcabot/pkg/telemetry"
	"dcabot/pkg/tradingutils"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config configures a Scheduler.
type Config struct {
	Period         time.Duration
	Concurrency    int
	RunTimeout     time.Duration
	StaleThreshold time.Duration
	FeeBuffer      float64
}

// Scheduler is the C5 periodic worker.
type Scheduler struct {
	cfg     Config
	store   ledger.Store
	view    *marketview.View
	adapter exchange.Adapter
	clock   core.Clock
	logger  core.Logger
	cron    *cron.Cron
}

// New builds a Scheduler. adapter is used for pair normalization on both
// paths and, on the exit path (§4.5 step 2, Exit branch), for the base
// asset code, balance read, asset precision and minimum order size; no
// order is placed through it here.
func New(cfg Config, store ledger.Store, view *marketview.View, adapter exchange.Adapter, clock core.Clock, logger core.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		view:    view,
		adapter: adapter,
		clock:   clock,
		logger:  logger.WithField("component", "scheduler"),
		cron:    cron.New(),
	}
}

// Run implements bootstrap.Runner: it schedules periodic ticks until ctx
// is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	spec := "@every " + s.cfg.Period.String()
	_, err := s.cron.AddFunc(spec, func() {
		s.tick(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	start := s.clock.Now()
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	summary := domain.RunSummary{
		RunID:        uuid.NewString(),
		StartedAt:    start,
		ReasonCounts: make(map[string]int),
	}

	bots, err := s.store.ActiveBots(runCtx)
	if err != nil {
		s.logger.Error("failed to list active bots", "error", err)
		return
	}
	summary.TotalBots = len(bots)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "scheduler",
		MaxWorkers: s.cfg.Concurrency,
	}, s.logger)

	results := make(chan string, len(bots))

	for _, bot := range bots {
		b := bot
		if runCtx.Err() != nil {
			summary.TimedOut = true
			break
		}
		_ = pool.Submit(func() {
			reason := s.evaluateBot(runCtx, b, summary.RunID)
			results <- reason
		})
	}
	pool.Stop()
	close(results)

	for reason := range results {
		summary.Processed++
		switch reason {
		case "entered":
			summary.Enters++
		case "exited":
			summary.Exits++
		case "failed":
			summary.Failed++
		default:
			summary.Skipped++
			summary.ReasonCounts[reason]++
		}
		summary.Details = append(summary.Details, reason)
	}

	summary.FinishedAt = s.clock.Now()
	telemetry.GetGlobalMetrics().RecordSchedulerTick(ctx, summary.FinishedAt.Sub(summary.StartedAt).Seconds())

	if err := s.store.RecordRunSummary(ctx, summary); err != nil {
		s.logger.Error("failed to record run summary", "error", err)
	}
}

// evaluateBot runs the full per-bot decision pipeline and returns the
// reason string recorded in the run summary.
func (s *Scheduler) evaluateBot(ctx context.Context, bot domain.Bot, runID string) string {
	now := s.clock.Now()

	snapshot, fresh := s.view.Fresh(bot.Config.Symbol, now, s.cfg.StaleThreshold)
	if !fresh {
		s.recordExecution(ctx, bot.ID, runID, domain.DecisionHold, "no market data", now)
		return "no market data"
	}

	hasBuy, err := s.store.HasInFlightOrder(ctx, bot.ID, domain.OrderSideBuy)
	if err != nil {
		s.logger.Error("failed to check in-flight buy order", "bot", bot.ID, "error", err)
		return "failed"
	}
	hasSell, err := s.store.HasInFlightOrder(ctx, bot.ID, domain.OrderSideSell)
	if err != nil {
		s.logger.Error("failed to check in-flight sell order", "bot", bot.ID, "error", err)
		return "failed"
	}
	if hasBuy || hasSell {
		s.recordExecution(ctx, bot.ID, runID, domain.DecisionHold, "order in flight", now)
		return "order in flight"
	}

	state := strategy.State{
		Status:            bot.Status,
		CurrentEntryCount: bot.CurrentEntryCount,
		LastEntryTime:     bot.LastEntryTime,
		LastEntryPrice:    bot.LastEntryPrice,
		TotalInvested:     bot.TotalInvested,
		TotalVolume:       bot.TotalVolume,
		MaxPriceSinceTP:   bot.MaxPriceSinceTP,
	}
	decision := strategy.Decide(bot.Config, state, snapshot, true, now)

	s.maintainMaxPriceSinceTP(ctx, bot, state, snapshot, now)

	switch decision.Kind {
	case domain.DecisionEnter:
		return s.handleEnter(ctx, bot, decision, snapshot, runID, now)
	case domain.DecisionExit:
		return s.handleExit(ctx, bot, decision, snapshot, runID, now)
	default:
		s.recordExecution(ctx, bot.ID, runID, domain.DecisionHold, decision.Reason, now)
		return decision.Reason
	}
}

func (s *Scheduler) handleEnter(ctx context.Context, bot domain.Bot, decision domain.Decision, snapshot domain.MarketSnapshot, runID string, now time.Time) string {
	if snapshot.Price.IsZero() {
		return "invalid price"
	}
	volume := decision.Amount.Div(snapshot.Price)

	pair, err := s.adapter.NormalizePair(bot.Config.Symbol)
	if err != nil {
		s.logger.Error("failed to normalize pair", "bot", bot.ID, "error", err)
		return "failed"
	}

	order := domain.PendingOrder{
		BotID:          bot.ID,
		UserID:         bot.UserID,
		Symbol:         bot.Config.Symbol,
		NormalizedPair: pair,
		Side:           domain.OrderSideBuy,
		Type:           domain.OrderTypeMarket,
		Volume:         volume,
		MaxAttempts:    8,
	}

	_, err = s.store.AppendPendingOrder(ctx, order)
	if err == apperrors.ErrConflictingOrder {
		return "order in flight"
	}
	if err != nil {
		s.logger.Error("failed to append pending buy order", "bot", bot.ID, "error", err)
		return "failed"
	}

	s.recordExecution(ctx, bot.ID, runID, domain.DecisionEnter, decision.Reason, now)
	return "entered"
}

func (s *Scheduler) handleExit(ctx context.Context, bot domain.Bot, decision domain.Decision, snapshot domain.MarketSnapshot, runID string, now time.Time) string {
	pair, err := s.adapter.NormalizePair(bot.Config.Symbol)
	if err != nil {
		s.logger.Error("failed to normalize pair", "bot", bot.ID, "error", err)
		return "failed"
	}

	base, err := s.adapter.BaseAssetCode(pair)
	if err != nil {
		s.logger.Error("failed to resolve base asset", "bot", bot.ID, "error", err)
		return "failed"
	}
	balances, err := s.adapter.GetBalance(ctx)
	if err != nil {
		s.logger.Error("failed to read balance", "bot", bot.ID, "error", err)
		return "failed"
	}
	available := balances[base]

	feeFactor := decimal.NewFromFloat(1 - s.cfg.FeeBuffer)
	volume := available.Mul(decision.Fraction).Mul(feeFactor)

	precision, err := s.adapter.AssetPrecision(base)
	if err == nil {
		volume = tradingutils.RoundQuantity(volume, precision)
	}

	minSize, err := s.adapter.MinOrderSize(pair)
	if err == nil && volume.LessThan(minSize) {
		s.recordExecution(ctx, bot.ID, runID, domain.DecisionHold, "below minimum", now)
		return "below minimum"
	}

	order := domain.PendingOrder{
		BotID:          bot.ID,
		UserID:         bot.UserID,
		Symbol:         bot.Config.Symbol,
		NormalizedPair: pair,
		Side:           domain.OrderSideSell,
		Type:           domain.OrderTypeMarket,
		Volume:         volume,
		MaxAttempts:    8,
	}

	_, err = s.store.TransitionToExiting(ctx, bot.ID, order)
	if err == apperrors.ErrConflictingOrder {
		return "order in flight"
	}
	if err != nil {
		s.logger.Error("failed to transition bot to exiting", "bot", bot.ID, "error", err)
		return "failed"
	}

	s.recordExecution(ctx, bot.ID, runID, domain.DecisionExit, decision.Reason, now)
	return "exited"
}

// maintainMaxPriceSinceTP updates the trailing-stop high-water mark
// before the next tick evaluates the exit rule against it.
func (s *Scheduler) maintainMaxPriceSinceTP(ctx context.Context, bot domain.Bot, state strategy.State, snapshot domain.MarketSnapshot, now time.Time) {
	if state.TotalVolume.IsZero() {
		return
	}
	avgEntry := state.AverageEntryPrice()
	tpPrice := avgEntry.Mul(decimal.NewFromInt(1).Add(bot.Config.TPTarget.Div(decimal.NewFromInt(100))))
	next := strategy.NextMaxPriceSinceTP(bot.MaxPriceSinceTP, snapshot.Price, tpPrice)
	if !next.Equal(bot.MaxPriceSinceTP) {
		if err := s.store.UpdateMaxPriceSinceTP(ctx, bot.ID, next); err != nil {
			s.logger.Warn("failed to persist max price since tp", "bot", bot.ID, "error", err)
		}
	}
}

func (s *Scheduler) recordExecution(ctx context.Context, botID, runID string, kind domain.DecisionKind, reason string, ts time.Time) {
	exec := domain.BotExecution{BotID: botID, RunID: runID, Decision: kind, Reason: reason, Timestamp: ts}
	telemetry.GetGlobalMetrics().AddDecision(ctx, string(kind))
	if err := s.store.RecordExecution(ctx, exec); err != nil {
		s.logger.Warn("failed to record bot execution", "bot", botID, "error", err)
	}
}

func baseAsset(symbol string) string {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '/' {
			return symbol[:i]
		}
	}
	return symbol
}

