package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agri-ledger/internal/cache"
	"agri-ledger/internal/config"
	"agri-ledger/internal/db"
	"agri-ledger/internal/events"
	"agri-ledger/internal/finance"
	"agri-ledger/internal/logger"
	"agri-ledger/internal/services"
	"agri-ledger/internal/store"

	"github.com/rs/zerolog"
)

// app is the wired process: one database pool, one ledger, one facade.
type app struct {
	cfg       config.Config
	log       zerolog.Logger
	database  *sql.DB
	finance   *finance.Facade
	scheduler *services.Scheduler
	closers   []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.LoadConfig()
	log := logger.InitLogger(cfg.LogLevel, cfg.LogPretty)

	database, err := db.InitDB(ctx, cfg.DBUrl, cfg.DBMaxOpenConns, log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, database: database}
	a.closers = append(a.closers, database.Close)

	ledgerCfg := services.LedgerConfig{
		Cache:     cache.Noop{},
		Publisher: events.Noop{},
		Location:  cfg.Location(),
	}

	if cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.IdempotencyTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rc.Ping(pingCtx)
		cancel()
		if err != nil {
			// The store still enforces idempotency on its own.
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unreachable, idempotency cache disabled")
			rc.Close()
		} else {
			ledgerCfg.Cache = rc
			a.closers = append(a.closers, rc.Close)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		ledgerCfg.Publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	st := store.NewMySQLStore(database, store.Options{
		LockWait: cfg.DBLockWait,
		Timeout:  cfg.DBTxTimeout,
	})
	ledger := services.NewLedger(st, log, ledgerCfg)

	a.finance = finance.NewFacade(ledger, cfg.LoanAdminFeeRate, services.DemoFactorSource{})
	a.scheduler = a.finance.Scheduler(cfg.SchedulerInterval, cfg.SchedulerWorkers)
	return a, nil
}

func (a *app) migrate(ctx context.Context) error {
	if err := db.RunMigrations(ctx, a.database, a.log); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("Close failed")
		}
	}
}
