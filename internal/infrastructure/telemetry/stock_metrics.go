package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LedgerGaugeSource reports point-in-time ledger state for periodic collection
type LedgerGaugeSource interface {
	CountOpenPending(ctx context.Context) (int64, error)
	CountFrozenBalances(ctx context.Context) (int64, error)
}

// OutboxBacklogSource reports outbox entries per delivery status
type OutboxBacklogSource interface {
	CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error)
}

// StockMetricsConfig holds configuration for stock metrics.
type StockMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 1 minute
	Source          LedgerGaugeSource
	Outbox          OutboxBacklogSource
}

// StockMetrics records movement, scan and integrity metrics of the ledger.
// All record methods are safe on a nil receiver.
type StockMetrics struct {
	logger *zap.Logger
	source LedgerGaugeSource
	outbox OutboxBacklogSource

	movementsCommitted  *Counter
	movementsRejected   *Counter
	conflictRetries     *Counter
	idempotentReplays   *Counter
	commitDuration      *Histogram
	commitAttempts      *Histogram
	scans               *Counter
	integrityViolations *Counter
	productsByStatus    *Gauge
	openPending         *Gauge
	frozenBalances      *Gauge
	outboxEntries       *Gauge

	stopCh      chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
	wg          sync.WaitGroup
}

// NewStockMetrics creates the stock ledger instruments on cfg.Meter
func NewStockMetrics(cfg StockMetricsConfig) (*StockMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &StockMetrics{
		logger: logger,
		source: cfg.Source,
		outbox: cfg.Outbox,
		stopCh: make(chan struct{}),
	}

	counters := []struct {
		dst               **Counter
		name, desc, units string
	}{
		{&m.movementsCommitted, "stock_movements_committed_total", "Movements committed to the ledger", "{movements}"},
		{&m.movementsRejected, "stock_movements_rejected_total", "Movement submissions rejected", "{movements}"},
		{&m.conflictRetries, "stock_conflict_retries_total", "Optimistic concurrency conflicts retried or exhausted", "{conflicts}"},
		{&m.idempotentReplays, "stock_idempotent_replays_total", "Submissions answered with an already committed movement", "{movements}"},
		{&m.scans, "stock_pending_scans_total", "Scan events applied to pending movements", "{scans}"},
		{&m.integrityViolations, "stock_integrity_violations_total", "Balances frozen because they disagreed with their history", "{balances}"},
	}
	for _, c := range counters {
		counter, err := NewCounter(cfg.Meter, c.name, c.desc, c.units)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	var err error
	m.commitDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "stock_movement_commit_duration_seconds",
		Description: "Time from first attempt to commit of a movement",
		Unit:        "s",
		Boundaries:  CommitDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	m.commitAttempts, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "stock_movement_commit_attempts",
		Description: "Attempts needed to commit a movement",
		Unit:        "{attempts}",
		Boundaries:  []float64{1, 2, 3, 5, 8},
	})
	if err != nil {
		return nil, err
	}

	gauges := []struct {
		dst               **Gauge
		name, desc, units string
	}{
		{&m.productsByStatus, "stock_products_by_status", "Products per stock status at the last analytics refresh", "{products}"},
		{&m.openPending, "stock_pending_open", "Pending movements still accepting scans", "{movements}"},
		{&m.frozenBalances, "stock_balances_frozen", "Balances frozen by the integrity check", "{balances}"},
		{&m.outboxEntries, "stock_outbox_entries", "Outbox entries per delivery status", "{events}"},
	}
	for _, g := range gauges {
		gauge, err := NewGauge(cfg.Meter, g.name, g.desc, g.units)
		if err != nil {
			return nil, err
		}
		*g.dst = gauge
	}
	return m, nil
}

// RecordMovementCommitted records a committed movement
func (m *StockMetrics) RecordMovementCommitted(ctx context.Context, movementType string, attempts int, d time.Duration) {
	if m == nil {
		return
	}
	attr := AttrMovementType.String(movementType)
	m.movementsCommitted.Inc(ctx, attr)
	m.commitDuration.RecordDuration(ctx, d, attr)
	m.commitAttempts.Record(ctx, float64(attempts), attr)
}

// RecordMovementRejected records a rejected submission with its error code
func (m *StockMetrics) RecordMovementRejected(ctx context.Context, movementType, code string) {
	if m == nil {
		return
	}
	m.movementsRejected.Inc(ctx, AttrMovementType.String(movementType), AttrErrorCode.String(codeLabel(code)))
}

// RecordConflictRetry records one version conflict
func (m *StockMetrics) RecordConflictRetry(ctx context.Context, movementType string) {
	if m == nil {
		return
	}
	m.conflictRetries.Inc(ctx, AttrMovementType.String(movementType))
}

// RecordIdempotentReplay records a submission answered from the log
func (m *StockMetrics) RecordIdempotentReplay(ctx context.Context, movementType string) {
	if m == nil {
		return
	}
	m.idempotentReplays.Inc(ctx, AttrMovementType.String(movementType))
}

// RecordScan records a scan outcome: "accepted", "completed" or an error code
func (m *StockMetrics) RecordScan(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.scans.Inc(ctx, AttrScanOutcome.String(codeLabel(outcome)))
}

// RecordStockStatus records how many products are in one stock status
func (m *StockMetrics) RecordStockStatus(ctx context.Context, status string, count int64) {
	if m == nil {
		return
	}
	m.productsByStatus.Record(ctx, count, AttrStockStatus.String(status))
}

// RecordIntegrityViolation records one frozen balance
func (m *StockMetrics) RecordIntegrityViolation(ctx context.Context) {
	if m == nil {
		return
	}
	m.integrityViolations.Inc(ctx)
}

func codeLabel(code string) string {
	if code == "" {
		return "error"
	}
	return code
}

// StartPeriodicCollection polls the gauge sources every interval until Stop
// or ctx is done. It is a no-op without a source or when already started.
func (m *StockMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	if m == nil || (m.source == nil && m.outbox == nil) {
		return
	}
	m.collectOnce.Do(func() {
		if interval <= 0 {
			interval = time.Minute
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			m.collect(ctx)
			for {
				select {
				case <-m.stopCh:
					return
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.collect(ctx)
				}
			}
		}()
	})
}

func (m *StockMetrics) collect(ctx context.Context) {
	if m.outbox != nil {
		m.collectOutbox(ctx)
	}
	if m.source == nil {
		return
	}
	if n, err := m.source.CountOpenPending(ctx); err != nil {
		m.logger.Warn("Failed to count open pending movements", zap.Error(err))
	} else {
		m.openPending.Record(ctx, n)
	}
	if n, err := m.source.CountFrozenBalances(ctx); err != nil {
		m.logger.Warn("Failed to count frozen balances", zap.Error(err))
	} else {
		m.frozenBalances.Record(ctx, n)
	}
}

// collectOutbox records every status, so a drained status drops to zero
func (m *StockMetrics) collectOutbox(ctx context.Context) {
	counts, err := m.outbox.CountByStatus(ctx)
	if err != nil {
		m.logger.Warn("Failed to count outbox entries", zap.Error(err))
		return
	}
	for _, status := range []shared.OutboxStatus{
		shared.OutboxStatusPending,
		shared.OutboxStatusProcessing,
		shared.OutboxStatusSent,
		shared.OutboxStatusFailed,
		shared.OutboxStatusDead,
	} {
		m.outboxEntries.Record(ctx, counts[status], AttrOutboxStatus.String(string(status)))
	}
}

// Stop stops periodic collection. Safe to call multiple times.
func (m *StockMetrics) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

// GormLedgerGaugeSource implements LedgerGaugeSource with aggregate queries
type GormLedgerGaugeSource struct {
	db *gorm.DB
}

// NewGormLedgerGaugeSource creates a GormLedgerGaugeSource
func NewGormLedgerGaugeSource(db *gorm.DB) *GormLedgerGaugeSource {
	return &GormLedgerGaugeSource{db: db}
}

// CountOpenPending counts pending movements in status pending or partial
func (s *GormLedgerGaugeSource) CountOpenPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table("pending_movements").
		Where("status IN ?", []string{"pending", "partial"}).
		Count(&count).Error
	return count, err
}

// CountFrozenBalances counts frozen stock balances
func (s *GormLedgerGaugeSource) CountFrozenBalances(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table("stock_balances").
		Where("frozen = ?", true).
		Count(&count).Error
	return count, err
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewStockMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
