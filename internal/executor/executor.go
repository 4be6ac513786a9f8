// Package executor implements the Order Queue Executor (C6): claims due
// pending orders, submits them to the exchange with retry/backoff, and
// verifies and writes back fills.
package executor

import (
	"context"
	"math"
	"math/rand"
	"time"

	"dcabot/internal/core"
	"dcabot/internal/domain"
	"dcabot/internal/exchange"
	"dcabot/internal/ledger"
	"dcabot/pkg/apperrors"
	"dcabot/pkg/telemetry"
	"dcabot/pkg/tradingutils"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

var decimalZero = decimal.Zero

// Config configures an Executor.
type Config struct {
	Period        time.Duration
	MaxPerTick    int
	StuckTimeout  time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffCap    time.Duration

	// AbandonErrorThreshold is the error count past which a failed sell
	// order for a still-exiting bot is force-abandoned (§4.6).
	AbandonErrorThreshold int
}

// Executor is the C6 periodic worker.
type Executor struct {
	cfg       Config
	store     ledger.Store
	adapter   exchange.Adapter
	credCache *exchange.CredentialCache
	clock     core.Clock
	logger    core.Logger
	cron      *cron.Cron
	policy    failsafe.Executor[any]
}

// New builds an Executor. The failsafe-go executor wraps queryOrder calls
// (idempotent) with retry-with-backoff plus a circuit breaker so a
// misbehaving exchange cannot starve every other claimed order this tick;
// placeOrder is deliberately excluded since it is not safe to retry
// blind, a submission that already reached the exchange must not be
// resubmitted, so its retries go through the ledger-level
// classify/backoff path instead (§4.6). credCache may be nil, in which
// case per-user credential loading is skipped (single-adapter test
// setups).
func New(cfg Config, store ledger.Store, adapter exchange.Adapter, credCache *exchange.CredentialCache, clock core.Clock, logger core.Logger) *Executor {
	if cfg.AbandonErrorThreshold == 0 {
		cfg.AbandonErrorThreshold = 50
	}

	retry := retrypolicy.NewBuilder[any]().
		WithMaxRetries(2).
		WithBackoff(cfg.BackoffBase, cfg.BackoffCap).
		Build()
	breaker := circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(5).
		WithDelay(30 * time.Second).
		Build()

	return &Executor{
		cfg:       cfg,
		store:     store,
		adapter:   adapter,
		credCache: credCache,
		clock:     clock,
		logger:    logger.WithField("component", "executor"),
		cron:      cron.New(),
		policy:    failsafe.With[any](retry, breaker),
	}
}

func (e *Executor) Run(ctx context.Context) error {
	spec := "@every " + e.cfg.Period.String()
	_, err := e.cron.AddFunc(spec, func() {
		e.tick(ctx)
	})
	if err != nil {
		return err
	}
	e.cron.Start()
	<-ctx.Done()
	stopCtx := e.cron.Stop()
	<-stopCtx.Done()
	return nil
}

func (e *Executor) tick(ctx context.Context) {
	start := e.clock.Now()

	claimed := 0
	for claimed < e.cfg.MaxPerTick {
		order, ok, err := e.store.ClaimNextDuePendingOrder(ctx, e.clock.Now())
		if err != nil {
			e.logger.Error("failed to claim pending order", "error", err)
			break
		}
		if !ok {
			break
		}
		claimed++
		e.processOrder(ctx, order)
	}

	e.runHousekeeping(ctx)

	telemetry.GetGlobalMetrics().RecordExecutorTick(ctx, e.clock.Now().Sub(start).Seconds())
}

func (e *Executor) processOrder(ctx context.Context, order domain.PendingOrder) {
	if !e.ensureCredentials(ctx, order) {
		return
	}

	if order.Side == domain.OrderSideSell {
		if !e.preflightSell(ctx, &order) {
			return
		}
	}

	placeResult, err := e.adapter.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Pair:   order.NormalizedPair,
		Side:   order.Side,
		Type:   order.Type,
		Volume: order.Volume,
		Price:  order.Price,
		Flags:  feeFlags(order.Side),
	})
	if err != nil {
		e.classifyPlaceError(ctx, order, err)
		return
	}

	order.TxID = placeResult.TxID
	telemetry.GetGlobalMetrics().AddOrderPlaced(ctx, string(order.Side))

	e.verify(ctx, order)
}

// ensureCredentials loads the order's owning user's exchange credentials
// before submission (§4.6.a). A load failure fails the order rather than
// risking submission under stale or missing keys.
func (e *Executor) ensureCredentials(ctx context.Context, order domain.PendingOrder) bool {
	if e.credCache == nil {
		return true
	}
	if _, err := e.credCache.Get(ctx, order.UserID); err != nil {
		e.logger.Error("failed to load exchange credentials", "order", order.ID, "user", order.UserID, "error", err)
		e.fail(ctx, order, "credential load failed: "+err.Error())
		return false
	}
	return true
}

func (e *Executor) preflightSell(ctx context.Context, order *domain.PendingOrder) bool {
	balances, err := e.adapter.GetBalance(ctx)
	if err != nil {
		e.logger.Error("preflight balance read failed", "order", order.ID, "error", err)
		e.fail(ctx, *order, "preflight balance read failed")
		return false
	}

	asset, err := e.adapter.BaseAssetCode(order.NormalizedPair)
	if err != nil {
		e.fail(ctx, *order, "cannot determine base asset for balance check")
		return false
	}
	available := balances[asset]
	if available.LessThan(order.Volume) {
		e.fail(ctx, *order, "insufficient balance at preflight")
		return false
	}

	pair, err := e.adapter.NormalizePair(order.Symbol)
	if err != nil {
		e.fail(ctx, *order, "pair no longer recognized")
		return false
	}
	order.NormalizedPair = pair

	precision, err := e.adapter.AssetPrecision(asset)
	if err == nil {
		order.Volume = tradingutils.RoundQuantity(order.Volume, precision)
	}

	minSize, err := e.adapter.MinOrderSize(pair)
	if err == nil && order.Volume.LessThan(minSize) {
		e.fail(ctx, *order, "below minimum order size at preflight")
		return false
	}

	return true
}

func (e *Executor) classifyPlaceError(ctx context.Context, order domain.PendingOrder, err error) {
	exErr, ok := apperrors.AsExchangeError(err)
	if !ok {
		e.retry(ctx, order, err.Error(), 0)
		return
	}

	switch exErr.Kind {
	case apperrors.KindRateLimited, apperrors.KindTransient:
		if delay := e.retry(ctx, order, exErr.Error(), exErr.RetryAfter); delay > 0 {
			telemetry.GetGlobalMetrics().RecordBackoffWait(ctx, delay.Seconds())
		}
	default:
		e.fail(ctx, order, exErr.Error())
	}
}

func (e *Executor) verify(ctx context.Context, order domain.PendingOrder) {
	var last exchange.OrderQueryResult

	for attempt := 0; attempt < 3; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}

		result, err := e.policy.GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
			return e.adapter.QueryOrder(ctx, order.TxID)
		})
		if err != nil {
			continue
		}
		last = result.(exchange.OrderQueryResult)
		if last.Status == exchange.OrderQueryClosed && last.ExecutedVolume.GreaterThan(decimalZero) {
			e.recordFill(ctx, order, last)
			return
		}
		if last.Status == exchange.OrderQueryCanceled || last.Status == exchange.OrderQueryExpired {
			e.retry(ctx, order, "order "+string(last.Status)+" with zero fill", 0)
			return
		}
	}
	// Still open after the final poll: leave in processing for the next
	// tick's housekeeping pass to pick up as stuck.
}

func (e *Executor) recordFill(ctx context.Context, order domain.PendingOrder, q exchange.OrderQueryResult) {
	result := ledger.FillResult{
		TxID:           order.TxID,
		ExecutedVolume: q.ExecutedVolume,
		ExecutedCost:   q.Cost,
		Fee:            q.Fee,
		Timestamp:      e.clock.Now(),
	}
	if err := e.store.RecordFill(ctx, order, result); err != nil {
		e.logger.Error("failed to record fill", "order", order.ID, "error", err)
		return
	}
	telemetry.GetGlobalMetrics().AddOrderFilled(ctx)
	if order.Side == domain.OrderSideSell {
		realized := q.Cost.Sub(q.Fee).InexactFloat64()
		telemetry.GetGlobalMetrics().AddCycleClosed(ctx, realized)
	}
}

// retry schedules order for another attempt no sooner than minDelay from
// now, falling back to the attempt-scaled backoff when minDelay is smaller
// (S6: nextRetryAt = now + max(retryAfter, backoff(attempt))). It returns
// the delay actually used, or zero if the order was failed outright.
func (e *Executor) retry(ctx context.Context, order domain.PendingOrder, errMsg string, minDelay time.Duration) time.Duration {
	if order.Attempts+1 >= e.cfg.MaxAttempts {
		e.fail(ctx, order, errMsg+" (max attempts reached)")
		return 0
	}
	delay := e.backoffDuration(order.Attempts)
	if minDelay > delay {
		delay = minDelay
	}
	nextRetryAt := e.clock.Now().Add(delay)
	if err := e.store.MarkOrderRetry(ctx, order.ID, errMsg, nextRetryAt); err != nil {
		e.logger.Error("failed to mark order retry", "order", order.ID, "error", err)
		return 0
	}
	telemetry.GetGlobalMetrics().AddOrderRetry(ctx)
	return delay
}

func (e *Executor) fail(ctx context.Context, order domain.PendingOrder, errMsg string) {
	if err := e.store.MarkOrderFailed(ctx, order.ID, errMsg); err != nil {
		e.logger.Error("failed to mark order failed", "order", order.ID, "error", err)
		return
	}
	telemetry.GetGlobalMetrics().AddOrderFailed(ctx)
}

// backoffDuration computes base*factor^attempts, capped, plus +/-20%
// jitter (§4.6).
func (e *Executor) backoffDuration(attempts int) time.Duration {
	base := float64(e.cfg.BackoffBase)
	scaled := base * math.Pow(e.cfg.BackoffFactor, float64(attempts))
	capped := math.Min(scaled, float64(e.cfg.BackoffCap))
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(capped * jitter)
}

// runHousekeeping flips stuck processing orders to retry and abandons
// exiting bots stuck past the error threshold (§4.6).
func (e *Executor) runHousekeeping(ctx context.Context) {
	cutoff := e.clock.Now().Add(-e.cfg.StuckTimeout)
	stuck, err := e.store.StuckProcessingOrders(ctx, cutoff)
	if err != nil {
		e.logger.Error("failed to list stuck orders", "error", err)
		return
	}
	for _, order := range stuck {
		if order.Side == domain.OrderSideSell && len(order.Errors) > e.cfg.AbandonErrorThreshold {
			e.fail(ctx, order, "abandoned, infinite retry")
			continue
		}
		if err := e.store.MarkOrderRetry(ctx, order.ID, "stuck in processing past timeout", e.clock.Now()); err != nil {
			e.logger.Error("failed to requeue stuck order", "order", order.ID, "error", err)
		}
	}
}

func feeFlags(side domain.OrderSide) exchange.OrderFlags {
	if side == domain.OrderSideBuy {
		return exchange.OrderFlags{FeeInBase: true}
	}
	return exchange.OrderFlags{FeeInQuote: true}
}
