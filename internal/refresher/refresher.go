// Package refresher implements the Market Data Refresher (C7): a
// periodic loop that refreshes the MarketView for every symbol any
// active bot watches.
package refresher

import (
	"context"
	"time"

	"dcabot/internal/analysis"
	"dcabot/internal/core"
	"dcabot/internal/domain"
	"dcabot/internal/exchange"
	"dcabot/internal/ledger"
	"dcabot/internal/marketview"
	"dcabot/pkg/telemetry"

	"github.com/jpillora/backoff"
	"github.com/robfig/cron/v3"
)

// Config configures a Refresher.
type Config struct {
	Period time.Duration
}

// Refresher is the C7 periodic worker.
type Refresher struct {
	cfg      Config
	store    ledger.Store
	adapter  exchange.Adapter
	provider analysis.Provider
	view     *marketview.View
	clock    core.Clock
	logger   core.Logger
	cron     *cron.Cron
}

func New(cfg Config, store ledger.Store, adapter exchange.Adapter, provider analysis.Provider, view *marketview.View, clock core.Clock, logger core.Logger) *Refresher {
	return &Refresher{
		cfg:      cfg,
		store:    store,
		adapter:  adapter,
		provider: provider,
		view:     view,
		clock:    clock,
		logger:   logger.WithField("component", "refresher"),
		cron:     cron.New(),
	}
}

func (r *Refresher) Run(ctx context.Context) error {
	spec := "@every " + r.cfg.Period.String()
	_, err := r.cron.AddFunc(spec, func() {
		r.tick(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	<-ctx.Done()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	return nil
}

func (r *Refresher) tick(ctx context.Context) {
	start := r.clock.Now()

	symbols, err := r.distinctActiveSymbols(ctx)
	if err != nil {
		r.logger.Error("failed to list active symbols", "error", err)
		return
	}

	for _, symbol := range symbols {
		// Each symbol's failure is isolated: a bad fetch for one symbol
		// must not abort the pass (§4.7 step 3).
		r.refreshSymbol(ctx, symbol)
	}

	telemetry.GetGlobalMetrics().RecordRefresherTick(ctx, r.clock.Now().Sub(start).Seconds())
}

func (r *Refresher) distinctActiveSymbols(ctx context.Context) ([]string, error) {
	bots, err := r.store.ActiveBots(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var symbols []string
	for _, bot := range bots {
		if !seen[bot.Config.Symbol] {
			seen[bot.Config.Symbol] = true
			symbols = append(symbols, bot.Config.Symbol)
		}
	}
	return symbols, nil
}

func (r *Refresher) refreshSymbol(ctx context.Context, symbol string) {
	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}

	pair, err := r.adapter.NormalizePair(symbol)
	if err != nil {
		r.logger.Warn("skipping symbol with unrecognized pair", "symbol", symbol, "error", err)
		return
	}

	var ticker exchange.Ticker
	for attempt := 0; attempt < 3; attempt++ {
		ticker, err = r.adapter.GetTicker(ctx, pair)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.Duration()):
		}
	}
	if err != nil {
		r.logger.Warn("failed to refresh ticker", "symbol", symbol, "error", err)
		return
	}

	indicators, err := r.provider.GetIndicators(ctx, symbol)
	if err != nil {
		r.logger.Warn("failed to refresh indicators", "symbol", symbol, "error", err)
		// Still publish price-only data so the strategy engine can at
		// least evaluate entry step-price gates, with neutral, zero-score
		// indicators in place of the failed fetch.
		indicators = analysis.Indicators{Recommendation: domain.RecommendationNeutral}
	}

	snapshot := domain.MarketSnapshot{
		Symbol:         symbol,
		Price:          ticker.Price,
		TrendScore:     indicators.TrendScore,
		TechnicalScore: indicators.TechnicalScore,
		Recommendation: indicators.Recommendation,
		Support:        indicators.Support.Support,
		HasSupport:     indicators.Support.HasSupport,
		Resistance:     indicators.Support.Resistance,
		HasResistance:  indicators.Support.HasResistance,
		UpdatedAt:      r.clock.Now(),
	}
	r.view.Put(snapshot)
}
