package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names, exported over the otel prometheus exporter.
const (
	MetricSchedulerTickSeconds = "dcabot_scheduler_tick_duration_seconds"
	MetricExecutorTickSeconds  = "dcabot_executor_tick_duration_seconds"
	MetricRefresherTickSeconds = "dcabot_refresher_tick_duration_seconds"

	MetricDecisionsTotal    = "dcabot_decisions_total"    // labeled by kind: enter/exit/hold/skip
	MetricOrdersPlacedTotal = "dcabot_orders_placed_total" // labeled by side
	MetricOrdersFilledTotal = "dcabot_orders_filled_total"
	MetricOrdersFailedTotal = "dcabot_orders_failed_total"
	MetricOrdersRetryTotal  = "dcabot_orders_retry_total"

	MetricActiveBots             = "dcabot_active_bots"
	MetricPendingOrdersOpen      = "dcabot_pending_orders_open"
	MetricBackoffWaitSeconds     = "dcabot_backoff_wait_seconds"
	MetricExchangeLatencySeconds = "dcabot_exchange_latency_seconds"
	MetricCyclesClosedTotal      = "dcabot_cycles_closed_total"
	MetricRealizedPnLTotal       = "dcabot_realized_pnl_total"
)

// MetricsHolder holds initialized OTel instruments for the run-summary and
// order-flow metrics described by the supplemented observability surface.
type MetricsHolder struct {
	SchedulerTick metric.Float64Histogram
	ExecutorTick  metric.Float64Histogram
	RefresherTick metric.Float64Histogram

	DecisionsTotal    metric.Int64Counter
	OrdersPlacedTotal metric.Int64Counter
	OrdersFilledTotal metric.Int64Counter
	OrdersFailedTotal metric.Int64Counter
	OrdersRetryTotal  metric.Int64Counter

	ActiveBots        metric.Int64ObservableGauge
	PendingOrdersOpen metric.Int64ObservableGauge
	BackoffWait       metric.Float64Histogram
	ExchangeLatency   metric.Float64Histogram
	CyclesClosedTotal metric.Int64Counter
	RealizedPnLTotal  metric.Float64Counter

	mu            sync.RWMutex
	activeBots    int64
	pendingOrders int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the process-wide metrics holder singleton.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// SetActiveBots updates the gauge backing value observed on each collect.
func (h *MetricsHolder) SetActiveBots(n int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeBots = n
}

// SetPendingOrdersOpen updates the gauge backing value observed on each collect.
func (h *MetricsHolder) SetPendingOrdersOpen(n int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingOrders = n
}

// InitMetrics creates every instrument against the given meter. Called once
// from Setup after the meter provider is installed.
func (h *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if h.SchedulerTick, err = meter.Float64Histogram(MetricSchedulerTickSeconds,
		metric.WithDescription("Bot scheduler run duration in seconds")); err != nil {
		return err
	}
	if h.ExecutorTick, err = meter.Float64Histogram(MetricExecutorTickSeconds,
		metric.WithDescription("Order queue executor tick duration in seconds")); err != nil {
		return err
	}
	if h.RefresherTick, err = meter.Float64Histogram(MetricRefresherTickSeconds,
		metric.WithDescription("Market data refresher tick duration in seconds")); err != nil {
		return err
	}
	if h.DecisionsTotal, err = meter.Int64Counter(MetricDecisionsTotal,
		metric.WithDescription("Strategy decisions made, labeled by kind")); err != nil {
		return err
	}
	if h.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal,
		metric.WithDescription("Orders submitted to the exchange, labeled by side")); err != nil {
		return err
	}
	if h.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal,
		metric.WithDescription("Orders that reached a filled terminal state")); err != nil {
		return err
	}
	if h.OrdersFailedTotal, err = meter.Int64Counter(MetricOrdersFailedTotal,
		metric.WithDescription("Orders that reached a permanently failed state")); err != nil {
		return err
	}
	if h.OrdersRetryTotal, err = meter.Int64Counter(MetricOrdersRetryTotal,
		metric.WithDescription("Order retry attempts scheduled")); err != nil {
		return err
	}
	if h.CyclesClosedTotal, err = meter.Int64Counter(MetricCyclesClosedTotal,
		metric.WithDescription("DCA cycles closed by a completed exit")); err != nil {
		return err
	}
	if h.RealizedPnLTotal, err = meter.Float64Counter(MetricRealizedPnLTotal,
		metric.WithDescription("Cumulative realized P&L across closed cycles")); err != nil {
		return err
	}
	if h.BackoffWait, err = meter.Float64Histogram(MetricBackoffWaitSeconds,
		metric.WithDescription("Backoff durations waited before an order retry")); err != nil {
		return err
	}
	if h.ExchangeLatency, err = meter.Float64Histogram(MetricExchangeLatencySeconds,
		metric.WithDescription("Exchange adapter call latency in seconds")); err != nil {
		return err
	}

	h.ActiveBots, err = meter.Int64ObservableGauge(MetricActiveBots,
		metric.WithDescription("Bots currently in active status"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			h.mu.RLock()
			defer h.mu.RUnlock()
			o.Observe(h.activeBots)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	h.PendingOrdersOpen, err = meter.Int64ObservableGauge(MetricPendingOrdersOpen,
		metric.WithDescription("Pending orders currently in pending/processing/retry"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			h.mu.RLock()
			defer h.mu.RUnlock()
			o.Observe(h.pendingOrders)
			return nil
		}),
	)
	return err
}

// RecordSchedulerTick records one scheduler run's wall-clock duration. A
// nil histogram (metrics not initialized, e.g. in unit tests) is a no-op.
func (h *MetricsHolder) RecordSchedulerTick(ctx context.Context, seconds float64) {
	if h.SchedulerTick != nil {
		h.SchedulerTick.Record(ctx, seconds)
	}
}

// RecordExecutorTick records one executor tick's wall-clock duration.
func (h *MetricsHolder) RecordExecutorTick(ctx context.Context, seconds float64) {
	if h.ExecutorTick != nil {
		h.ExecutorTick.Record(ctx, seconds)
	}
}

// RecordRefresherTick records one refresher tick's wall-clock duration.
func (h *MetricsHolder) RecordRefresherTick(ctx context.Context, seconds float64) {
	if h.RefresherTick != nil {
		h.RefresherTick.Record(ctx, seconds)
	}
}

// AddDecision increments the decisions counter for kind, if initialized.
func (h *MetricsHolder) AddDecision(ctx context.Context, kind string) {
	if h.DecisionsTotal != nil {
		h.DecisionsTotal.Add(ctx, 1, DecisionAttr(kind))
	}
}

// AddOrderPlaced increments the orders-placed counter for side.
func (h *MetricsHolder) AddOrderPlaced(ctx context.Context, side string) {
	if h.OrdersPlacedTotal != nil {
		h.OrdersPlacedTotal.Add(ctx, 1, SideAttr(side))
	}
}

// AddOrderFilled increments the orders-filled counter.
func (h *MetricsHolder) AddOrderFilled(ctx context.Context) {
	if h.OrdersFilledTotal != nil {
		h.OrdersFilledTotal.Add(ctx, 1)
	}
}

// AddOrderFailed increments the orders-failed counter.
func (h *MetricsHolder) AddOrderFailed(ctx context.Context) {
	if h.OrdersFailedTotal != nil {
		h.OrdersFailedTotal.Add(ctx, 1)
	}
}

// AddOrderRetry increments the orders-retry counter.
func (h *MetricsHolder) AddOrderRetry(ctx context.Context) {
	if h.OrdersRetryTotal != nil {
		h.OrdersRetryTotal.Add(ctx, 1)
	}
}

// AddCycleClosed records a closed cycle and its realized P&L.
func (h *MetricsHolder) AddCycleClosed(ctx context.Context, realizedPnL float64) {
	if h.CyclesClosedTotal != nil {
		h.CyclesClosedTotal.Add(ctx, 1)
	}
	if h.RealizedPnLTotal != nil {
		h.RealizedPnLTotal.Add(ctx, realizedPnL)
	}
}

// RecordBackoffWait records a backoff duration waited before a retry.
func (h *MetricsHolder) RecordBackoffWait(ctx context.Context, seconds float64) {
	if h.BackoffWait != nil {
		h.BackoffWait.Record(ctx, seconds)
	}
}

// RecordExchangeLatency records one exchange adapter call's latency.
func (h *MetricsHolder) RecordExchangeLatency(ctx context.Context, seconds float64) {
	if h.ExchangeLatency != nil {
		h.ExchangeLatency.Record(ctx, seconds)
	}
}

// DecisionAttr is a convenience attribute set for DecisionsTotal.
func DecisionAttr(kind string) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}

// SideAttr is a convenience attribute set for order-side-labeled counters.
func SideAttr(side string) metric.AddOption {
	return metric.WithAttributes(attribute.String("side", side))
}
