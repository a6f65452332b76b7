package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/stockledger/internal/application/stock"
	"github.com/erp/stockledger/internal/domain/analytics"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/cache"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/erp/stockledger/internal/infrastructure/event"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"github.com/erp/stockledger/internal/infrastructure/messaging"
	"github.com/erp/stockledger/internal/infrastructure/persistence"
	"github.com/erp/stockledger/internal/infrastructure/scheduler"
	"github.com/erp/stockledger/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// engine owns every long-lived component of the stock ledger process
type engine struct {
	cfg *config.Config
	log *zap.Logger

	telemetry    *telemetry.Provider
	logs         *telemetry.LogExporter
	profiler     *telemetry.Profiler
	db           *persistence.Database
	dbInstr      *telemetry.DBInstrumentation
	stockMetrics *telemetry.StockMetrics
	stores       *cache.Stores
	broker       *messaging.RabbitMQ

	Locations   *stock.LocationService
	Ledger      *stock.LedgerService
	Processor   *stock.MovementProcessor
	Reconciler  *stock.Reconciler
	Analytics   *stock.AnalyticsService
	Integrity   *stock.IntegrityService
	Maintenance *stock.Maintenance

	eventBus        *event.InMemoryEventBus
	outboxProcessor *event.OutboxProcessor
	scheduler       *scheduler.Scheduler
	cron            *scheduler.CronTrigger
}

func newEngine(ctx context.Context, cfg *config.Config, log *zap.Logger) (e *engine, err error) {
	e = &engine{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			e.close(context.Background())
		}
	}()

	e.telemetry, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		Insecure:          cfg.Telemetry.Insecure,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
		SpanProfiles:      cfg.Telemetry.SpanProfiles && cfg.Telemetry.Profiling.Enabled,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	e.logs, err = telemetry.NewLogExporter(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		Insecure:          cfg.Telemetry.Insecure,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Level:             exportLevel(cfg.Log.Level),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("log export: %w", err)
	}
	log = e.logs.Bridge(log)
	e.log = log

	e.profiler, err = telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.Profiling.Enabled,
		ServerAddress:   cfg.Telemetry.Profiling.ServerAddress,
		ApplicationName: cfg.Telemetry.ServiceName,
		Contention:      cfg.Telemetry.Profiling.Contention,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("profiler: %w", err)
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.SQLLevel),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	e.db, err = persistence.Open(ctx, &cfg.Database, gormLog)
	if err != nil {
		return nil, err
	}
	log.Info("Database connected", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	meter := e.telemetry.Meter("github.com/erp/stockledger")
	if cfg.Telemetry.DBTraceEnabled || cfg.Telemetry.DBMetricsEnabled {
		dbCfg := telemetry.DefaultDBConfig()
		dbCfg.Tracing = cfg.Telemetry.DBTraceEnabled
		dbCfg.Metrics = cfg.Telemetry.DBMetricsEnabled
		dbCfg.LogFullSQL = cfg.Telemetry.DBLogFullSQL
		dbCfg.SlowQueryThreshold = cfg.Telemetry.DBSlowQueryThresh
		e.dbInstr, err = telemetry.NewDBInstrumentation(meter, dbCfg, log)
		if err != nil {
			return nil, fmt.Errorf("database instrumentation: %w", err)
		}
		if err := e.db.DB.Use(e.dbInstr); err != nil {
			return nil, fmt.Errorf("database instrumentation: %w", err)
		}
	}

	e.stockMetrics, err = telemetry.NewStockMetrics(telemetry.StockMetricsConfig{
		Meter:           meter,
		Logger:          log,
		CollectInterval: cfg.Telemetry.MetricsInterval,
		Source:          telemetry.NewGormLedgerGaugeSource(e.db.DB),
		Outbox:          event.NewGormOutboxRepository(e.db.DB),
	})
	if err != nil {
		return nil, fmt.Errorf("stock metrics: %w", err)
	}

	e.stores, err = cache.NewStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithScanLockTTL(cfg.Ledger.ScanLockTTL),
	).Create(ctx)
	if err != nil {
		return nil, err
	}

	serializer := event.NewEventSerializer()
	event.RegisterStockEvents(serializer)
	outboxPublisher := event.NewOutboxPublisher(serializer, cfg.Event.MaxRetries)

	scope := persistence.NewGormTransactionScope(e.db.DB, outboxPublisher.Recorder)
	locationRepo := persistence.NewGormLocationRepository(e.db.DB)
	balanceRepo := persistence.NewGormBalanceRepository(e.db.DB)
	movementRepo := persistence.NewGormMovementRepository(e.db.DB)
	pendingRepo := persistence.NewGormPendingMovementRepository(e.db.DB)
	policyRepo := persistence.NewGormPolicyRepository(e.db.DB)
	outboxRepo := event.NewGormOutboxRepository(e.db.DB)

	maxAttempts := cfg.Ledger.MaxAttempts
	e.Locations = stock.NewLocationService(scope, locationRepo, log)
	e.Ledger = stock.NewLedgerService(scope, balanceRepo, movementRepo, maxAttempts, log)
	e.Processor = stock.NewMovementProcessor(scope, movementRepo, maxAttempts, log)
	e.Processor.SetStockMetrics(e.stockMetrics)
	e.Reconciler = stock.NewReconciler(scope, pendingRepo, e.Processor, e.stores.Locker, stock.ReconcilerConfig{
		OverageTolerancePct: decimal.NewFromFloat(cfg.Reconciler.OverageTolerancePct),
		MaxAge:              cfg.Reconciler.MaxPendingAge,
	}, log)
	e.Reconciler.SetStockMetrics(e.stockMetrics)
	e.Analytics = stock.NewAnalyticsService(e.Ledger, balanceRepo, policyRepo, stock.AnalyticsConfig{
		WindowDays: cfg.Analytics.WindowDays,
		Thresholds: analytics.ABCThresholds{
			A: decimal.NewFromFloat(cfg.Analytics.ThresholdA),
			B: decimal.NewFromFloat(cfg.Analytics.ThresholdB),
		},
	}, log)
	e.Analytics.SetStockMetrics(e.stockMetrics)
	e.Integrity = stock.NewIntegrityService(scope, balanceRepo, movementRepo, maxAttempts, log)
	e.Integrity.SetStockMetrics(e.stockMetrics)
	e.Maintenance = stock.NewMaintenance(e.Analytics, e.Integrity, e.Reconciler, log)

	e.eventBus = event.NewInMemoryEventBus(log)
	// reorder recommendations are advisory and are not stored in the outbox
	e.Analytics.SetEventPublisher(e.eventBus)

	handlers := []shared.EventHandler{
		stock.NewStockStatusHandler(e.Analytics, log),
		stock.NewIntegrityAlertHandler(log),
	}
	if cfg.RabbitMQ.Enabled {
		e.broker, err = messaging.Dial(cfg.RabbitMQ, log)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers,
			messaging.NewEventForwarder(e.broker.Channel(), serializer, cfg.RabbitMQ.Exchange, cfg.App.Name, log))
	}
	for _, h := range event.WrapHandlersWithIdempotency(handlers, e.stores.Idempotency, log,
		event.WithIdempotencyConfig(shared.IdempotencyConfig{Enabled: true, TTL: cfg.Ledger.IdempotencyTTL}),
	) {
		e.eventBus.Subscribe(h)
	}

	e.outboxProcessor = event.NewOutboxProcessor(outboxRepo, e.eventBus, serializer, event.OutboxProcessorConfig{
		BatchSize:        cfg.Event.BatchSize,
		PollInterval:     cfg.Event.PollInterval,
		CleanupEnabled:   cfg.Event.CleanupEnabled,
		CleanupRetention: cfg.Event.CleanupRetention,
	}, log)

	e.scheduler = scheduler.NewScheduler(scheduler.SchedulerConfig{
		Enabled:           cfg.Scheduler.Enabled,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
		RetryAttempts:     cfg.Scheduler.RetryAttempts,
		RetryDelay:        cfg.Scheduler.RetryDelay,
	}, scheduler.ExecutorFunc(func(ctx context.Context, job *scheduler.Job) error {
		ctx = logger.WithContext(ctx, log.With(zap.String("job_id", job.ID.String())))
		return e.runMaintenance(ctx, job.Task)
	}), log)
	e.cron = scheduler.NewCronTrigger(e.scheduler, log)
	schedules := map[stock.MaintenanceTask]string{
		stock.TaskRefreshAnalytics: cfg.Scheduler.RefreshAnalyticsCron,
		stock.TaskVerifyLedger:     cfg.Scheduler.VerifyLedgerCron,
		stock.TaskExpirePending:    cfg.Scheduler.ExpirePendingCron,
	}
	for _, task := range stock.AllMaintenanceTasks() {
		if err := e.cron.Register(string(task), schedules[task]); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// start launches the background loops
func (e *engine) start(ctx context.Context) error {
	if err := e.db.Ping(ctx); err != nil {
		return err
	}
	if e.broker != nil && !e.broker.Healthy() {
		return errors.New("rabbitmq connection closed before start")
	}
	if e.dbInstr != nil {
		e.dbInstr.StartPoolStatsCollection(ctx)
	}
	e.stockMetrics.StartPeriodicCollection(ctx, e.cfg.Telemetry.MetricsInterval)

	if err := e.eventBus.Start(ctx); err != nil {
		return err
	}
	if e.cfg.Event.ProcessorEnabled {
		if err := e.outboxProcessor.Start(ctx); err != nil {
			return err
		}
	}
	if e.cfg.Scheduler.Enabled {
		if err := e.scheduler.Start(ctx); err != nil {
			return err
		}
		if err := e.cron.Start(ctx); err != nil {
			return err
		}
	}

	e.log.Info("Stock ledger engine started",
		zap.Bool("distributed_stores", e.stores.Distributed()),
		zap.Bool("rabbitmq", e.broker != nil && e.broker.Healthy()),
		zap.Bool("scheduler", e.cfg.Scheduler.Enabled),
	)
	return nil
}

// runTask executes one maintenance task synchronously
func (e *engine) runTask(ctx context.Context, task string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Scheduler.JobTimeout)
	defer cancel()
	return e.runMaintenance(ctx, task)
}

func (e *engine) runMaintenance(ctx context.Context, task string) error {
	return telemetry.ProfileTask(ctx, task, func(ctx context.Context) error {
		return e.Maintenance.Run(ctx, stock.MaintenanceTask(task))
	})
}

// exportLevel is the minimum level shipped over OTLP: the local level, or info
// when the local level does not parse
func exportLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// close stops the loops in reverse start order and releases connections
func (e *engine) close(ctx context.Context) error {
	var errs []error
	stop := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if e.cron != nil {
		stop("cron", e.cron.Stop)
	}
	if e.scheduler != nil {
		stop("scheduler", e.scheduler.Stop)
	}
	if e.outboxProcessor != nil {
		stop("outbox processor", e.outboxProcessor.Stop)
	}
	if e.eventBus != nil {
		stop("event bus", e.eventBus.Stop)
	}
	if e.broker != nil {
		stop("rabbitmq", func(context.Context) error { return e.broker.Close() })
	}
	if e.stores != nil {
		stop("stores", func(context.Context) error { return e.stores.Close() })
	}
	e.stockMetrics.Stop()
	if e.dbInstr != nil {
		e.dbInstr.Stop()
	}
	if e.db != nil {
		stop("database", func(context.Context) error { return e.db.Close() })
	}
	if e.profiler != nil {
		stop("profiler", func(context.Context) error { return e.profiler.Stop() })
	}
	if e.telemetry != nil {
		stop("telemetry", e.telemetry.Shutdown)
	}
	if e.logs != nil {
		stop("log export", e.logs.Shutdown)
	}
	return errors.Join(errs...)
}
