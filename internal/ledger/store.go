// Package ledger owns every Bot, Entry, PendingOrder and Cycle record
// (C4): the only component allowed to mutate bot or order state. Every
// mutator applies its change as one transaction. RecordFill is idempotent
// per exchange txid; MarkOrderRetry increments attempts and MarkOrderFailed
// appends an error on every call, so a repeated call is not a no-op.
package ledger

import (
	"context"
	"time"

	"dcabot/internal/domain"
	"dcabot/pkg/apperrors"

	"github.com/shopspring/decimal"
)

// FillResult is what the executor reports back after a verified fill.
type FillResult struct {
	TxID           string
	ExecutedVolume decimal.Decimal
	ExecutedCost   decimal.Decimal
	Fee            decimal.Decimal
	Timestamp      time.Time
}

// Store is the full set of transactional mutators and reads the rest of
// the system uses to touch bot/order state (§4.4). Every mutator here is
// safe to call concurrently from multiple executor/scheduler instances.
type Store interface {
	// ActiveBots returns every bot with status=active.
	ActiveBots(ctx context.Context) ([]domain.Bot, error)

	// GetBot returns one bot by id.
	GetBot(ctx context.Context, botID string) (domain.Bot, error)

	// HasInFlightOrder reports whether a bot has a pending/processing/retry
	// order of the given side.
	HasInFlightOrder(ctx context.Context, botID string, side domain.OrderSide) (bool, error)

	// AppendPendingOrder atomically verifies no conflicting in-flight order
	// exists for (bot, order.Side) and inserts the row. Returns
	// apperrors.ErrConflictingOrder if one already exists.
	AppendPendingOrder(ctx context.Context, order domain.PendingOrder) (domain.PendingOrder, error)

	// TransitionToExiting atomically moves a bot active->exiting and
	// appends the sell PendingOrder in one transaction.
	TransitionToExiting(ctx context.Context, botID string, sellOrder domain.PendingOrder) (domain.PendingOrder, error)

	// ClaimNextDuePendingOrder atomically selects one row with
	// status in {pending, retry} and nextRetryAt <= now, transitions it to
	// processing, and returns it. Returns apperrors.ErrBotNotFound-free nil,
	// false when no row is due.
	ClaimNextDuePendingOrder(ctx context.Context, now time.Time) (domain.PendingOrder, bool, error)

	// RecordFill writes the Entry (buy) or closes the cycle (sell) and
	// updates bot aggregates in one transaction. Idempotent per txid.
	RecordFill(ctx context.Context, order domain.PendingOrder, result FillResult) error

	// MarkOrderRetry increments attempts and schedules the next retry.
	MarkOrderRetry(ctx context.Context, orderID string, errMsg string, nextRetryAt time.Time) error

	// MarkOrderFailed transitions an order to failed permanently. If the
	// order was a sell for a bot in exiting, the bot reverts to active with
	// lastFailedExitReason populated.
	MarkOrderFailed(ctx context.Context, orderID string, errMsg string) error

	// StuckProcessingOrders returns orders in processing whose updatedAt is
	// older than olderThan, for the housekeeping pass.
	StuckProcessingOrders(ctx context.Context, olderThan time.Time) ([]domain.PendingOrder, error)

	// UpdateMaxPriceSinceTP persists the running high-water mark used by
	// the trailing-stop-to-min-TP exit rule.
	UpdateMaxPriceSinceTP(ctx context.Context, botID string, value decimal.Decimal) error

	// RecordExecution appends a BotExecution audit row.
	RecordExecution(ctx context.Context, exec domain.BotExecution) error

	// RecordRunSummary persists a scheduler run's observability record.
	RecordRunSummary(ctx context.Context, summary domain.RunSummary) error
}

// openCycleID derives a new cycle id the way §4.4 specifies:
// "cycle_" + epochMillis(now).
func openCycleID(now time.Time) string {
	millis := now.UnixMilli()
	return "cycle_" + itoa64(millis)
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [24]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// conflictErr reports the apperrors sentinel for an append collision.
func conflictErr() error {
	return apperrors.ErrConflictingOrder
}
