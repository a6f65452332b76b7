package stock

import (
	"context"
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/pending"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"github.com/erp/stockledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconcilerConfig configures pending workflows
type ReconcilerConfig struct {
	// OverageTolerancePct is the accepted overage as a percentage of expected
	OverageTolerancePct decimal.Decimal
	// MaxAge cancels open workflows older than this; zero disables expiry
	MaxAge time.Duration
	// ExpiryBatch bounds the workflows cancelled per sweep
	ExpiryBatch int
}

// Reconciler tracks multi-scan receive and pick workflows and commits each
// completed workflow as exactly one movement
type Reconciler struct {
	scope     TransactionScope
	repo      pending.PendingMovementRepository
	processor *MovementProcessor
	locker    shared.KeyLocker
	config    ReconcilerConfig
	logger    *zap.Logger
	metrics   *telemetry.StockMetrics
}

// NewReconciler creates a Reconciler. Scans of one workflow are serialized through locker.
func NewReconciler(
	scope TransactionScope,
	repo pending.PendingMovementRepository,
	processor *MovementProcessor,
	locker shared.KeyLocker,
	config ReconcilerConfig,
	logger *zap.Logger,
) *Reconciler {
	if config.ExpiryBatch <= 0 {
		config.ExpiryBatch = 100
	}
	return &Reconciler{
		scope:     scope,
		repo:      repo,
		processor: processor,
		locker:    locker,
		config:    config,
		logger:    logger,
	}
}

// SetStockMetrics sets the metrics recorder
func (r *Reconciler) SetStockMetrics(m *telemetry.StockMetrics) {
	r.metrics = m
}

// Start opens a workflow. A pick reserves the expected quantity on the source balance.
func (r *Reconciler) Start(ctx context.Context, cmd StartPendingCommand) (*pending.PendingMovement, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	productID, locationID := uuid.MustParse(cmd.ProductID), uuid.MustParse(cmd.LocationID)
	tolerance := pending.ToleranceFromPercent(cmd.ExpectedQuantity, r.config.OverageTolerancePct)

	var started *pending.PendingMovement
	err := retryOnConflict(ctx, r.processor.maxAttempts, func() error {
		p, err := pending.NewPendingMovement(pending.Kind(cmd.Kind), productID, locationID,
			cmd.ExpectedQuantity, tolerance, cmd.Operator, cmd.Reference)
		if err != nil {
			return err
		}
		return r.scope.Execute(ctx, func(tx TransactionalRepositories) error {
			if _, err := tx.Locations().FindByID(ctx, locationID); err != nil {
				return err
			}
			if p.Kind == pending.KindPick {
				if _, err := reserveInTx(ctx, tx, productID, locationID, p.ExpectedQuantity); err != nil {
					return err
				}
				p.Reserve(p.ExpectedQuantity)
			}
			if err := tx.Pending().SaveWithLock(ctx, p); err != nil {
				return err
			}
			started = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("pending movement started",
		zap.String("pending_movement_id", started.ID.String()),
		zap.String("kind", string(started.Kind)),
		zap.String("expected", started.ExpectedQuantity.String()),
	)
	return started, nil
}

// Scan applies one scan event. Scans of the same workflow never run
// concurrently. The scan that reaches the expected quantity commits the
// movement and completes the workflow in one transaction.
func (r *Reconciler) Scan(ctx context.Context, event ScanEvent) (*ScanResult, error) {
	if err := validateCommand(event); err != nil {
		return nil, err
	}
	id := uuid.MustParse(event.PendingMovementID)

	ctx, span := telemetry.StartServiceSpan(ctx, "Reconciler", "Scan",
		telemetry.WithAttribute(telemetry.SpanAttrPendingID, id.String()),
	)
	defer span.End()
	// every line of this workflow, including the final movement, carries its id
	ctx = logger.WithCorrelationID(ctx, id.String())
	if event.Operator != "" {
		ctx = logger.WithOperator(ctx, event.Operator)
	}

	unlock, err := r.locker.Lock(ctx, lockKey(id))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer unlock()

	result, err := r.scan(ctx, id, event.ScannedDelta)
	switch {
	case err != nil:
		telemetry.RecordError(span, err)
		r.metrics.RecordScan(ctx, shared.CodeOf(err))
	case result.Completed():
		telemetry.SetAttribute(span, telemetry.SpanAttrMovementID, result.Movement.ID.String())
		r.metrics.RecordScan(ctx, "completed")
	default:
		r.metrics.RecordScan(ctx, "accepted")
	}
	return result, err
}

func (r *Reconciler) scan(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (*ScanResult, error) {
	p, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	reached, err := p.RecordScan(delta)
	if err != nil {
		return nil, err
	}

	if !reached {
		err := r.scope.Execute(ctx, func(tx TransactionalRepositories) error {
			return tx.Pending().SaveWithLock(ctx, p)
		})
		if err != nil {
			return nil, err
		}
		return &ScanResult{Pending: p}, nil
	}

	var completed *pending.PendingMovement
	m, err := r.processor.SubmitWith(ctx, p.FinalIntent(), func(ctx context.Context, tx TransactionalRepositories, m *ledger.Movement) error {
		fresh, err := tx.Pending().FindByID(ctx, id)
		if err != nil {
			return err
		}
		if _, err := fresh.RecordScan(delta); err != nil {
			return err
		}
		if err := fresh.Complete(m.ID); err != nil {
			return err
		}
		if err := tx.Pending().SaveWithLock(ctx, fresh); err != nil {
			return err
		}
		if err := tx.Events().Record(ctx, fresh.GetDomainEvents()...); err != nil {
			return err
		}
		fresh.ClearDomainEvents()
		completed = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completed == nil {
		// the movement was committed before; report the stored workflow
		if completed, err = r.repo.FindByID(ctx, id); err != nil {
			return nil, err
		}
	}

	logger.L(ctx, r.logger).Info("pending movement completed",
		zap.String("movement_id", m.ID.String()),
		zap.String("scanned", completed.ScannedQuantity.String()),
	)
	return &ScanResult{Pending: completed, Movement: m}, nil
}

// Cancel abandons an open workflow. Nothing reaches the ledger; a pick's
// reservation is released.
func (r *Reconciler) Cancel(ctx context.Context, id uuid.UUID, reason string) (*pending.PendingMovement, error) {
	unlock, err := r.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var cancelled *pending.PendingMovement
	err = retryOnConflict(ctx, r.processor.maxAttempts, func() error {
		return r.scope.Execute(ctx, func(tx TransactionalRepositories) error {
			p, err := tx.Pending().FindByID(ctx, id)
			if err != nil {
				return err
			}
			released, err := p.Cancel(reason)
			if err != nil {
				return err
			}
			if released.IsPositive() {
				if _, err := releaseInTx(ctx, tx, p.ProductID, p.LocationID, released); err != nil {
					return err
				}
			}
			if err := tx.Pending().SaveWithLock(ctx, p); err != nil {
				return err
			}
			if err := tx.Events().Record(ctx, p.GetDomainEvents()...); err != nil {
				return err
			}
			p.ClearDomainEvents()
			cancelled = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("pending movement cancelled",
		zap.String("pending_movement_id", id.String()),
		zap.String("reason", reason),
	)
	return cancelled, nil
}

// Get returns a workflow by id
func (r *Reconciler) Get(ctx context.Context, id uuid.UUID) (*pending.PendingMovement, error) {
	return r.repo.FindByID(ctx, id)
}

// ListOpen returns pending and partial workflows
func (r *Reconciler) ListOpen(ctx context.Context, page shared.Page) (shared.Paginated[*pending.PendingMovement], error) {
	page = page.Normalize()
	items, total, err := r.repo.FindOpen(ctx, page)
	if err != nil {
		return shared.Paginated[*pending.PendingMovement]{}, err
	}
	return shared.NewPaginated(items, total, page), nil
}

// ExpireStale cancels open workflows older than the configured max age
func (r *Reconciler) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	if r.config.MaxAge <= 0 {
		return 0, nil
	}
	stale, err := r.repo.FindOpenCreatedBefore(ctx, now.Add(-r.config.MaxAge), r.config.ExpiryBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, p := range stale {
		if _, err := r.Cancel(ctx, p.ID, "expired"); err != nil {
			r.logger.Warn("failed to expire pending movement",
				zap.String("pending_movement_id", p.ID.String()),
				zap.Error(err),
			)
			continue
		}
		expired++
	}
	if expired > 0 {
		r.logger.Info("expired stale pending movements", zap.Int("count", expired))
	}
	return expired, nil
}

func lockKey(id uuid.UUID) string {
	return "pending:" + id.String()
}
