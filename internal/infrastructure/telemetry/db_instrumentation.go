package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBConfig holds configuration for database instrumentation.
type DBConfig struct {
	Tracing bool
	Metrics bool
	// LogFullSQL includes query variables in spans (dev only)
	LogFullSQL         bool
	SlowQueryThreshold time.Duration // Default: 200ms
	PoolStatsInterval  time.Duration // Default: 15s
	DBSystem           string        // Default: "postgresql"
}

// DefaultDBConfig returns default configuration for database instrumentation.
func DefaultDBConfig() DBConfig {
	return DBConfig{
		SlowQueryThreshold: 200 * time.Millisecond,
		PoolStatsInterval:  15 * time.Second,
		DBSystem:           "postgresql",
	}
}

type dbContextKey string

const queryStartKey dbContextKey = "db_query_start"

// DBInstrumentation is a GORM plugin that adds otelgorm spans, slow query
// marking, query metrics and connection pool gauges.
type DBInstrumentation struct {
	config DBConfig
	logger *zap.Logger

	queryTotal     *Counter
	queryDuration  *Histogram
	slowQueryTotal *Counter
	poolConns      *Gauge

	sqlDB    *sql.DB
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDBInstrumentation creates the plugin. meter may be nil when cfg.Metrics is off.
func NewDBInstrumentation(meter metric.Meter, cfg DBConfig, logger *zap.Logger) (*DBInstrumentation, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultDBConfig()
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = defaults.SlowQueryThreshold
	}
	if cfg.PoolStatsInterval <= 0 {
		cfg.PoolStatsInterval = defaults.PoolStatsInterval
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = defaults.DBSystem
	}

	d := &DBInstrumentation{config: cfg, logger: logger, stopCh: make(chan struct{})}
	if !cfg.Metrics {
		return d, nil
	}
	if meter == nil {
		return nil, ErrMeterNil
	}

	var err error
	if d.queryTotal, err = NewCounter(meter, "db_query_total", "Database queries by operation", "{query}"); err != nil {
		return nil, err
	}
	if d.slowQueryTotal, err = NewCounter(meter, "db_slow_query_total", "Queries slower than the slow query threshold", "{query}"); err != nil {
		return nil, err
	}
	if d.poolConns, err = NewGauge(meter, "db_pool_connections", "Connections in the pool by state", "{connection}"); err != nil {
		return nil, err
	}
	d.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database query latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Name implements gorm.Plugin
func (d *DBInstrumentation) Name() string {
	return "stockledger:db_instrumentation"
}

// Initialize implements gorm.Plugin
func (d *DBInstrumentation) Initialize(db *gorm.DB) error {
	if !d.config.Tracing && !d.config.Metrics {
		return nil
	}
	if d.config.Tracing {
		opts := []otelgorm.Option{otelgorm.WithDBName(d.config.DBSystem)}
		if !d.config.LogFullSQL {
			opts = append(opts, otelgorm.WithoutQueryVariables())
		}
		if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
			return err
		}
	}

	cb := db.Callback()
	hooks := []struct {
		op       string
		register func(before, after func(*gorm.DB)) error
	}{
		{"create", func(b, a func(*gorm.DB)) error {
			return errors.Join(cb.Create().Before("gorm:create").Register("instr:before_create", b),
				cb.Create().After("gorm:create").Register("instr:after_create", a))
		}},
		{"query", func(b, a func(*gorm.DB)) error {
			return errors.Join(cb.Query().Before("gorm:query").Register("instr:before_query", b),
				cb.Query().After("gorm:query").Register("instr:after_query", a))
		}},
		{"update", func(b, a func(*gorm.DB)) error {
			return errors.Join(cb.Update().Before("gorm:update").Register("instr:before_update", b),
				cb.Update().After("gorm:update").Register("instr:after_update", a))
		}},
		{"delete", func(b, a func(*gorm.DB)) error {
			return errors.Join(cb.Delete().Before("gorm:delete").Register("instr:before_delete", b),
				cb.Delete().After("gorm:delete").Register("instr:after_delete", a))
		}},
		{"row", func(b, a func(*gorm.DB)) error {
			return errors.Join(cb.Row().Before("gorm:row").Register("instr:before_row", b),
				cb.Row().After("gorm:row").Register("instr:after_row", a))
		}},
		{"raw", func(b, a func(*gorm.DB)) error {
			return errors.Join(cb.Raw().Before("gorm:raw").Register("instr:before_raw", b),
				cb.Raw().After("gorm:raw").Register("instr:after_raw", a))
		}},
	}
	for _, h := range hooks {
		op := h.op
		if err := h.register(d.before, func(db *gorm.DB) { d.after(db, op) }); err != nil {
			return err
		}
	}

	if d.config.Metrics {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		d.sqlDB = sqlDB
	}

	d.logger.Info("Database instrumentation registered",
		zap.Bool("tracing", d.config.Tracing),
		zap.Bool("metrics", d.config.Metrics),
		zap.Duration("slow_query_threshold", d.config.SlowQueryThreshold),
	)
	return nil
}

func (d *DBInstrumentation) before(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey, time.Now())
	}
}

func (d *DBInstrumentation) after(db *gorm.DB, op string) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	var elapsed time.Duration
	if start, ok := ctx.Value(queryStartKey).(time.Time); ok {
		elapsed = time.Since(start)
	}
	slow := elapsed > d.config.SlowQueryThreshold

	if op == "raw" || op == "row" {
		op = operationOf(db.Statement.SQL.String())
	}
	table := db.Statement.Table
	if table == "" {
		table = "unknown"
	}

	if d.config.Metrics {
		opAttr := AttrDBOperation.String(strings.ToUpper(op))
		d.queryTotal.Inc(ctx, opAttr)
		d.queryDuration.RecordDuration(ctx, elapsed, opAttr)
		if slow {
			d.slowQueryTotal.Inc(ctx, AttrDBTable.String(table))
		}
	}

	span := trace.SpanFromContext(ctx)
	if !d.config.Tracing || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
		attribute.String("db.sql.table", table),
	)
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.RecordError(db.Error)
		span.SetStatus(codes.Error, db.Error.Error())
	}
	if slow {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
	}
}

func operationOf(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, op) {
			return op
		}
	}
	return "OTHER"
}

// StartPoolStatsCollection records pool gauges every PoolStatsInterval until Stop
func (d *DBInstrumentation) StartPoolStatsCollection(ctx context.Context) {
	if d.sqlDB == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.config.PoolStatsInterval)
		defer ticker.Stop()
		for {
			d.collectPoolStats(ctx)
			select {
			case <-ticker.C:
			case <-d.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (d *DBInstrumentation) collectPoolStats(ctx context.Context) {
	stats := d.sqlDB.Stats()
	d.poolConns.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	d.poolConns.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	d.poolConns.Record(ctx, int64(stats.OpenConnections), AttrDBState.String("open"))
	d.poolConns.Record(ctx, int64(stats.MaxOpenConnections), AttrDBState.String("max"))
}

// Stop stops pool stats collection. Safe to call multiple times.
func (d *DBInstrumentation) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
	})
}
