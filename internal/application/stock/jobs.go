package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// MaintenanceTask names a periodic ledger task
type MaintenanceTask string

const (
	TaskRefreshAnalytics MaintenanceTask = "refresh_analytics"
	TaskVerifyLedger     MaintenanceTask = "verify_ledger"
	TaskExpirePending    MaintenanceTask = "expire_pending"
)

// AllMaintenanceTasks lists every maintenance task
func AllMaintenanceTasks() []MaintenanceTask {
	return []MaintenanceTask{TaskRefreshAnalytics, TaskVerifyLedger, TaskExpirePending}
}

// Maintenance runs the periodic tasks of the stock ledger
type Maintenance struct {
	analytics  *AnalyticsService
	integrity  *IntegrityService
	reconciler *Reconciler
	logger     *zap.Logger
	now        func() time.Time
}

// NewMaintenance creates a Maintenance runner
func NewMaintenance(analyticsService *AnalyticsService, integrity *IntegrityService, reconciler *Reconciler, logger *zap.Logger) *Maintenance {
	return &Maintenance{
		analytics:  analyticsService,
		integrity:  integrity,
		reconciler: reconciler,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes one task
func (m *Maintenance) Run(ctx context.Context, task MaintenanceTask) error {
	ctx = logger.WithOperator(ctx, string(task))
	log := logger.L(ctx, m.logger)
	start := m.now()
	var err error
	switch task {
	case TaskRefreshAnalytics:
		err = m.analytics.Refresh(ctx)
	case TaskVerifyLedger:
		var report *IntegrityReport
		report, err = m.integrity.VerifyAll(ctx)
		if err == nil && !report.OK() {
			log.Warn("ledger verification froze balances",
				zap.Int("discrepancies", len(report.Discrepancies)),
			)
		}
	case TaskExpirePending:
		_, err = m.reconciler.ExpireStale(ctx, m.now())
	default:
		return fmt.Errorf("unknown maintenance task %q", task)
	}
	if err != nil {
		return fmt.Errorf("maintenance task %s: %w", task, err)
	}
	log.Debug("maintenance task finished",
		zap.Duration("duration", m.now().Sub(start)),
	)
	return nil
}
