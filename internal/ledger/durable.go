package ledger

import (
	"context"
	"time"

	"dcabot/internal/domain"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/shopspring/decimal"
)

// DurableStore wraps a Store so that the transactional mutators run as
// DBOS steps: if the process crashes between an exchange call and the
// ledger write, the workflow resumes and re-applies the step. A replayed
// RecordFill with an already-applied txid is a no-op; a replayed
// AppendPendingOrder or TransitionToExiting returns ErrConflictingOrder
// while the order from the first write is still in flight, and a replayed
// MarkOrderFailed appends its error message a second time.
type DurableStore struct {
	inner Store
	ctx   dbos.DBOSContext
}

// NewDurableStore wraps inner with DBOS step semantics under dctx.
func NewDurableStore(inner Store, dctx dbos.DBOSContext) *DurableStore {
	return &DurableStore{inner: inner, ctx: dctx}
}

var _ Store = (*DurableStore)(nil)

func (d *DurableStore) ActiveBots(ctx context.Context) ([]domain.Bot, error) {
	return d.inner.ActiveBots(ctx)
}

func (d *DurableStore) GetBot(ctx context.Context, botID string) (domain.Bot, error) {
	return d.inner.GetBot(ctx, botID)
}

func (d *DurableStore) HasInFlightOrder(ctx context.Context, botID string, side domain.OrderSide) (bool, error) {
	return d.inner.HasInFlightOrder(ctx, botID, side)
}

func (d *DurableStore) AppendPendingOrder(ctx context.Context, order domain.PendingOrder) (domain.PendingOrder, error) {
	resultRaw, err := d.ctx.RunAsStep(d.ctx, func(stepCtx context.Context) (any, error) {
		return d.inner.AppendPendingOrder(stepCtx, order)
	})
	if err != nil {
		return domain.PendingOrder{}, err
	}
	return resultRaw.(domain.PendingOrder), nil
}

func (d *DurableStore) TransitionToExiting(ctx context.Context, botID string, sellOrder domain.PendingOrder) (domain.PendingOrder, error) {
	resultRaw, err := d.ctx.RunAsStep(d.ctx, func(stepCtx context.Context) (any, error) {
		return d.inner.TransitionToExiting(stepCtx, botID, sellOrder)
	})
	if err != nil {
		return domain.PendingOrder{}, err
	}
	return resultRaw.(domain.PendingOrder), nil
}

func (d *DurableStore) ClaimNextDuePendingOrder(ctx context.Context, now time.Time) (domain.PendingOrder, bool, error) {
	return d.inner.ClaimNextDuePendingOrder(ctx, now)
}

func (d *DurableStore) RecordFill(ctx context.Context, order domain.PendingOrder, result FillResult) error {
	_, err := d.ctx.RunAsStep(d.ctx, func(stepCtx context.Context) (any, error) {
		return nil, d.inner.RecordFill(stepCtx, order, result)
	})
	return err
}

func (d *DurableStore) MarkOrderRetry(ctx context.Context, orderID string, errMsg string, nextRetryAt time.Time) error {
	return d.inner.MarkOrderRetry(ctx, orderID, errMsg, nextRetryAt)
}

func (d *DurableStore) MarkOrderFailed(ctx context.Context, orderID string, errMsg string) error {
	_, err := d.ctx.RunAsStep(d.ctx, func(stepCtx context.Context) (any, error) {
		return nil, d.inner.MarkOrderFailed(stepCtx, orderID, errMsg)
	})
	return err
}

func (d *DurableStore) StuckProcessingOrders(ctx context.Context, olderThan time.Time) ([]domain.PendingOrder, error) {
	return d.inner.StuckProcessingOrders(ctx, olderThan)
}

func (d *DurableStore) UpdateMaxPriceSinceTP(ctx context.Context, botID string, value decimal.Decimal) error {
	return d.inner.UpdateMaxPriceSinceTP(ctx, botID, value)
}

func (d *DurableStore) RecordExecution(ctx context.Context, exec domain.BotExecution) error {
	return d.inner.RecordExecution(ctx, exec)
}

func (d *DurableStore) RecordRunSummary(ctx context.Context, summary domain.RunSummary) error {
	return d.inner.RecordRunSummary(ctx, summary)
}
