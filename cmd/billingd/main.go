// Command billingd runs the metering and credit ledger service: event ingestion,
// aggregation, the ledger API and the periodic billing jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/billing/internal/application/billing"
	"github.com/erp/billing/internal/application/ledger"
	appmetering "github.com/erp/billing/internal/application/metering"
	"github.com/erp/billing/internal/application/reconciliation"
	"github.com/erp/billing/internal/infrastructure/cache"
	"github.com/erp/billing/internal/infrastructure/config"
	"github.com/erp/billing/internal/infrastructure/logger"
	"github.com/erp/billing/internal/infrastructure/persistence"
	"github.com/erp/billing/internal/infrastructure/platform"
	"github.com/erp/billing/internal/infrastructure/scheduler"
	"github.com/erp/billing/internal/infrastructure/storage"
	"github.com/erp/billing/internal/infrastructure/telemetry"
	"github.com/erp/billing/internal/infrastructure/wal"
	"github.com/erp/billing/internal/interfaces/http/handler"
	"github.com/erp/billing/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// lifecycle is a started component that must be stopped on shutdown.
type lifecycle interface {
	Stop(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	if providers.Logs.IsEnabled() {
		bridged, err := logger.New(logCfg, logger.WithCore(providers.Logs.NewZapCore(logger.ParseLevel(cfg.Log.Level))))
		if err == nil {
			log = bridged
		}
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting billing core",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("db_driver", cfg.Database.Driver),
	)

	if err := run(ctx, cfg, log, providers); err != nil {
		log.Error("Service stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Service exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, providers *telemetry.Providers) error {
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	metrics, err := telemetry.NewBillingMetrics(providers.Meter.Meter("billing"))
	if err != nil {
		return fmt.Errorf("create billing metrics: %w", err)
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithGormLogger(gormLog))
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:    cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL: cfg.Telemetry.DBLogFullSQL,
		DBName:     cfg.Database.DBName,
	}, log); err != nil {
		return err
	}
	log.Info("Database connected successfully")

	if cfg.Telemetry.MetricsEnabled {
		sqlDB, err := db.DB.DB()
		if err != nil {
			return err
		}
		poolMetrics, err := telemetry.NewDBPoolMetrics(providers.Meter.Meter("billing.db"), sqlDB, cfg.Telemetry.MetricsInterval, log)
		if err != nil {
			return fmt.Errorf("create db pool metrics: %w", err)
		}
		poolMetrics.Start(ctx)
		defer poolMetrics.Stop()
	}

	eventRepo := persistence.NewMeterEventRepository(db.DB)
	summaryRepo := persistence.NewUsageSummaryRepository(db.DB)
	ledgerRepo := persistence.NewCreditLedgerRepository(db.DB)
	dividendRepo := persistence.NewDividendRepository(db.DB)

	eventLog, err := wal.Open(cfg.Ingest.WALPath, wal.WithLogger(log))
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	deadLetters, err := wal.NewFileDeadLetterStore(cfg.Ingest.DeadLetterPath, log)
	if err != nil {
		return fmt.Errorf("open dead letter store: %w", err)
	}

	opts := []appmetering.Option{appmetering.WithLogger(log), appmetering.WithMetrics(metrics)}
	ingestor := appmetering.NewIngestor(eventLog, eventRepo, deadLetters, appmetering.IngestorConfig{
		FlushInterval:        cfg.Ingest.FlushInterval,
		BatchSize:            cfg.Ingest.BatchSize,
		MaxFlushRetries:      cfg.Ingest.MaxFlushRetries,
		RetryInitialInterval: cfg.Ingest.RetryInitialInterval,
		RetryMaxInterval:     cfg.Ingest.RetryMaxInterval,
	}, opts...)
	if err := ingestor.Start(ctx); err != nil {
		return fmt.Errorf("start ingestor: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := ingestor.Close(closeCtx); err != nil {
			log.Error("Ingestor close failed", zap.Error(err))
		}
	}()

	aggregator := appmetering.NewAggregator(eventRepo, summaryRepo, appmetering.AggregatorConfig{
		Interval:         cfg.Aggregation.Interval,
		WindowSize:       cfg.Aggregation.WindowSize,
		Grace:            cfg.Aggregation.Grace,
		MaxWindowsPerRun: cfg.Aggregation.MaxWindowsPerRun,
		BatchLimit:       cfg.Aggregation.BatchLimit,
	}, opts...)
	if cfg.Aggregation.Enabled {
		if err := aggregator.Start(ctx); err != nil {
			return fmt.Errorf("start aggregator: %w", err)
		}
		defer aggregator.Stop()
	}

	ledgerService := ledger.NewService(ledgerRepo, log, metrics)
	reconciler := reconciliation.NewService(summaryRepo, ledgerService,
		reconciliation.WithTolerance(cfg.Reconciliation.Tolerance),
		reconciliation.WithLogger(log),
		reconciliation.WithMetrics(metrics),
	)

	leases, err := cache.NewJobLeaseFactory(cfg.Redis, cache.WithLogger(log)).CreateLease()
	if err != nil {
		return err
	}
	defer leases.Close()

	runners, err := buildRunners(ctx, cfg, log, metrics, leases, ledgerService, dividendRepo, reconciler)
	if err != nil {
		return err
	}
	for _, r := range runners {
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := r.Stop(stopCtx); err != nil {
				log.Warn("Runner stop failed", zap.Error(err))
			}
		}()
	}

	gin.SetMode(ginMode(cfg.App.Env))
	engine := router.NewEngine(router.EngineConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		AuthSecret:     cfg.HTTP.AuthSecret,
		AuthIssuer:     cfg.HTTP.AuthIssuer,
		Logger:         log,
	})
	health := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": handler.PingFunc(func(context.Context) error { return db.Ping() }),
	})
	router.NewRouter(engine).
		Register(
			handler.NewMeteringHandler(ingestor, aggregator),
			handler.NewLedgerHandler(ledgerService),
			handler.NewReconciliationHandler(reconciler),
		).
		Health(health.Health).
		Setup()

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// buildRunners starts one runner per enabled periodic job. Jobs that need the hosting
// platform are only started when it is configured.
func buildRunners(
	ctx context.Context,
	cfg *config.Config,
	log *zap.Logger,
	metrics *telemetry.BillingMetrics,
	leases cache.JobLease,
	ledgerService *ledger.Service,
	dividends *persistence.DividendRepository,
	reconciler *reconciliation.Service,
) ([]lifecycle, error) {
	var runners []lifecycle
	start := func(r interface {
		lifecycle
		Start(ctx context.Context) error
	}) error {
		if err := r.Start(ctx); err != nil {
			return err
		}
		runners = append(runners, r)
		return nil
	}
	common := []scheduler.Option{
		scheduler.WithLease(leases),
		scheduler.WithLogger(log),
		scheduler.WithMetrics(metrics),
		scheduler.WithTimeout(cfg.Billing.JobLeaseTTL),
	}

	var client *platform.Client
	if cfg.Platform.BaseURL != "" {
		var err error
		client, err = platform.NewClient(cfg.Platform, log)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Billing.RuntimeEnabled && client != nil {
		job := billing.NewRuntimeDeductionJob(ledgerService, client, client.Suspend, billing.RuntimeDeductionConfig{
			Interval: cfg.Billing.RuntimeInterval,
			UnitCost: cfg.Billing.RuntimeUnitCost,
		}, log, metrics)
		r, err := scheduler.NewIntervalRunner(job.Name(), cfg.Billing.RuntimeInterval, summaryTask(job.Run), common...)
		if err != nil {
			return nil, err
		}
		if err := start(r); err != nil {
			return nil, err
		}
	}

	if cfg.Billing.DividendEnabled && client != nil {
		at, err := config.ParseClock(cfg.Billing.DividendRunAt)
		if err != nil {
			return nil, err
		}
		job := billing.NewDividendJob(ledgerService, dividends, billing.StaticDividendPool(cfg.Billing.DividendDailyPool), client, log)
		opts := append(common, scheduler.WithLeaseTTL(cfg.Billing.JobLeaseTTL))
		if err := start(scheduler.NewDailyRunner(job.Name(), at, summaryTask(job.Run), opts...)); err != nil {
			return nil, err
		}
	}

	if cfg.Billing.AutoTopupEnabled && client != nil {
		job := billing.NewAutoTopupJob(ledgerService, ledgerService, client, client, log)
		r, err := scheduler.NewIntervalRunner(job.Name(), cfg.Billing.AutoTopupInterval, summaryTask(job.Run), common...)
		if err != nil {
			return nil, err
		}
		if err := start(r); err != nil {
			return nil, err
		}
	}

	if cfg.Reconciliation.Enabled {
		at, err := config.ParseClock(cfg.Reconciliation.RunAt)
		if err != nil {
			return nil, err
		}
		var archive reconciliation.ReportArchive = reconciliation.NoopArchive{}
		if cfg.Reconciliation.Archive {
			store, err := storage.NewS3ObjectStorage(&cfg.Storage, storage.WithLogger(log))
			if err != nil {
				return nil, err
			}
			if err := store.EnsureBucket(ctx); err != nil {
				return nil, err
			}
			archive = reconciliation.NewObjectArchive(store)
		}
		job := reconciliation.NewJob(reconciler, archive, log)
		task := func(ctx context.Context, at time.Time) error {
			_, err := job.Run(ctx, at)
			return err
		}
		opts := append(common, scheduler.WithLeaseTTL(cfg.Billing.JobLeaseTTL))
		if err := start(scheduler.NewDailyRunner(job.Name(), at, task, opts...)); err != nil {
			return nil, err
		}
	}

	return runners, nil
}

func summaryTask(run func(ctx context.Context, at time.Time) (billing.RunSummary, error)) scheduler.Task {
	return func(ctx context.Context, at time.Time) error {
		_, err := run(ctx, at)
		return err
	}
}

func ginMode(env string) string {
	if env == "production" {
		return gin.ReleaseMode
	}
	return gin.DebugMode
}
