// Command bot runs the DCA control plane's three periodic workers (Bot
// Scheduler, Order Queue Executor, Market Data Refresher) plus the
// internal ops HTTP surface, wired together through bootstrap.App.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"dcabot/internal/analysis"
	"dcabot/internal/bootstrap"
	"dcabot/internal/core"
	"dcabot/internal/executor"
	"dcabot/internal/exchange"
	"dcabot/internal/exchange/kraken"
	"dcabot/internal/httpapi"
	"dcabot/internal/infrastructure/health"
	"dcabot/internal/infrastructure/metrics"
	"dcabot/internal/ledger"
	"dcabot/internal/marketview"
	"dcabot/internal/refresher"
	"dcabot/internal/scheduler"
	"dcabot/pkg/logging"
	"dcabot/pkg/telemetry"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	app, err := bootstrap.NewApp(configPath)
	if err != nil {
		return fmt.Errorf("bootstrap app: %w", err)
	}

	logger, err := logging.NewZapLogger(app.Cfg.System.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	tel, err := telemetry.Setup("dcabot")
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	sqliteStore, err := ledger.NewSQLiteStore(app.Cfg.App.LedgerPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = sqliteStore.Close() }()

	var store ledger.Store = sqliteStore
	if app.Cfg.App.EngineType == "dbos" {
		dbosCtx, err := dbos.NewDBOSContext(dbos.Config{
			AppName:     "dcabot",
			DatabaseURL: app.Cfg.App.DatabaseURL,
		})
		if err != nil {
			return fmt.Errorf("init dbos context: %w", err)
		}
		if err := dbosCtx.Launch(); err != nil {
			return fmt.Errorf("launch dbos: %w", err)
		}
		defer dbosCtx.Shutdown(30 * time.Second)
		store = ledger.NewDurableStore(sqliteStore, dbosCtx)
	}

	krakenClient := kraken.New(kraken.Config{
		APIKey:     string(app.Cfg.Exchange.APIKey),
		APISecret:  string(app.Cfg.Exchange.APISecret),
		BaseURL:    app.Cfg.Exchange.BaseURL,
		Timeout:    app.Cfg.Exchange.RequestTimeout(),
		RatePerSec: app.Cfg.Exchange.RateLimitPerSecond,
		RateBurst:  app.Cfg.Exchange.RateLimitBurst,
		FeeBuffer:  app.Cfg.Exchange.FeeBuffer,
	}, logger)
	defer krakenClient.Close()

	view := marketview.New()
	taProvider := analysis.NewClient(app.Cfg.Analysis.ProviderURL)
	clock := core.SystemClock{}

	healthMgr := health.NewHealthManager(logger)
	healthMgr.Register("ledger", func() error { return nil })

	sched := scheduler.New(scheduler.Config{
		Period:         app.Cfg.Scheduler.Period(),
		Concurrency:    app.Cfg.Scheduler.Concurrency,
		RunTimeout:     app.Cfg.Scheduler.RunTimeout(),
		StaleThreshold: app.Cfg.Refresher.StaleThreshold(),
		FeeBuffer:      app.Cfg.Exchange.FeeBuffer,
	}, store, view, krakenClient, clock, logger)

	credCache := exchange.NewCredentialCache(exchange.StaticCredentialLoader{
		Creds: exchange.Credentials{
			APIKey:    string(app.Cfg.Exchange.APIKey),
			APISecret: string(app.Cfg.Exchange.APISecret),
		},
	}, app.Cfg.Exchange.CredentialCacheTTL())

	exec := executor.New(executor.Config{
		Period:        app.Cfg.Executor.Period(),
		MaxPerTick:    app.Cfg.Executor.MaxPerTick,
		StuckTimeout:  app.Cfg.Executor.StuckTimeout(),
		MaxAttempts:   app.Cfg.Executor.MaxAttempts,
		BackoffBase:   app.Cfg.Executor.BackoffBase(),
		BackoffFactor: app.Cfg.Executor.BackoffFactor,
		BackoffCap:    app.Cfg.Executor.BackoffCap(),
	}, store, krakenClient, credCache, clock, logger)

	refr := refresher.New(refresher.Config{
		Period: app.Cfg.Refresher.Period(),
	}, store, krakenClient, taProvider, view, clock, logger)

	metricsSrv := metrics.NewServer(app.Cfg.Telemetry.MetricsPort, logger)
	metricsSrv.Start()
	defer func() { _ = metricsSrv.Stop(context.Background()) }()

	ops := httpapi.New(":8090", healthMgr, store, logger)

	return app.Run(sched, exec, refr, ops)
}
