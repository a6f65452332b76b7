package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IntegrityReport summarizes one verification pass
type IntegrityReport struct {
	Checked       int                  `json:"checked"`
	Discrepancies []ledger.Discrepancy `json:"discrepancies"`
	// Skipped keys changed while being checked and are verified next pass
	Skipped int `json:"skipped"`
}

// OK reports whether every checked balance matched its history
func (r *IntegrityReport) OK() bool {
	return len(r.Discrepancies) == 0
}

// IntegrityService verifies that materialized balances equal the fold of
// their movement history. A mismatching balance is frozen until it is
// reconciled with Unfreeze.
type IntegrityService struct {
	scope       TransactionScope
	balances    ledger.BalanceRepository
	movements   ledger.MovementRepository
	maxAttempts int
	logger      *zap.Logger
	metrics     *telemetry.StockMetrics
}

// NewIntegrityService creates an IntegrityService
func NewIntegrityService(
	scope TransactionScope,
	balances ledger.BalanceRepository,
	movements ledger.MovementRepository,
	maxAttempts int,
	logger *zap.Logger,
) *IntegrityService {
	return &IntegrityService{
		scope:       scope,
		balances:    balances,
		movements:   movements,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// SetStockMetrics sets the metrics recorder
func (s *IntegrityService) SetStockMetrics(m *telemetry.StockMetrics) {
	s.metrics = m
}

// Verify checks every balance of one product, including keys that appear
// only in the movement history
func (s *IntegrityService) Verify(ctx context.Context, productID uuid.UUID) (*IntegrityReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "IntegrityService", "Verify",
		telemetry.WithAttribute(telemetry.SpanAttrProductID, productID.String()),
	)
	defer span.End()

	report := &IntegrityReport{}
	if err := s.verifyProduct(ctx, productID, report); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrDiscrepancies, int64(len(report.Discrepancies)))
	telemetry.SetOK(span)
	return report, nil
}

// VerifyAll checks every product with a balance row
func (s *IntegrityService) VerifyAll(ctx context.Context) (*IntegrityReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "IntegrityService", "VerifyAll")
	defer span.End()

	ids, err := s.balances.ListProductIDs(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	report := &IntegrityReport{}
	for _, id := range ids {
		if err := s.verifyProduct(ctx, id, report); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	s.logger.Info("ledger verified",
		zap.Int("products", len(ids)),
		zap.Int("balances", report.Checked),
		zap.Int("discrepancies", len(report.Discrepancies)),
		zap.Int("skipped", report.Skipped),
	)
	telemetry.SetOK(span)
	return report, nil
}

func (s *IntegrityService) verifyProduct(ctx context.Context, productID uuid.UUID, report *IntegrityReport) error {
	keys := make(map[ledger.Key]bool)
	var order []ledger.Key

	balances, err := s.balances.FindByProduct(ctx, productID)
	if err != nil {
		return err
	}
	for _, b := range balances {
		if !keys[b.Key()] {
			keys[b.Key()] = true
			order = append(order, b.Key())
		}
	}

	// history keys with no balance row
	folded := make(map[ledger.Key]decimal.Decimal)
	for m, err := range streamMovements(ctx, s.movements, ledger.MovementFilter{ProductID: &productID}, DefaultStreamBatch) {
		if err != nil {
			return err
		}
		ledger.FoldInto(folded, []*ledger.Movement{m})
	}
	for _, d := range ledger.Reconcile(balances, folded) {
		if !keys[d.Key] {
			keys[d.Key] = true
			order = append(order, d.Key)
		}
	}

	for _, key := range order {
		d, err := s.verifyKey(ctx, key)
		switch {
		case errors.Is(err, shared.ErrConcurrencyConflict):
			report.Skipped++
			continue
		case err != nil:
			return err
		}
		report.Checked++
		if d != nil {
			report.Discrepancies = append(report.Discrepancies, *d)
		}
	}
	return nil
}

// verifyKey compares one balance with its fold in a single transaction and
// freezes it on mismatch. A concurrent movement on the key surfaces as a
// version conflict when the freeze is saved.
func (s *IntegrityService) verifyKey(ctx context.Context, key ledger.Key) (*ledger.Discrepancy, error) {
	var found *ledger.Discrepancy
	err := s.scope.Execute(ctx, func(tx TransactionalRepositories) error {
		b, err := tx.Balances().Find(ctx, key.ProductID, key.LocationID)
		if errors.Is(err, shared.ErrNotFound) {
			b, err = ledger.NewBalance(key.ProductID, key.LocationID), nil
		}
		if err != nil {
			return err
		}
		if b.Frozen {
			return nil
		}

		folded, err := FoldKey(ctx, tx.Movements(), key)
		if err != nil {
			return err
		}
		if b.Quantity.Equal(folded) {
			return nil
		}

		d := ledger.Discrepancy{Key: key, Balance: b.Quantity, Folded: folded}
		b.Freeze(fmt.Sprintf("balance %s does not match history %s", d.Balance, d.Folded))
		if err := tx.Balances().SaveWithLock(ctx, b); err != nil {
			return err
		}
		if err := tx.Events().Record(ctx, ledger.NewLedgerIntegrityViolatedEvent(b, d)); err != nil {
			return err
		}
		found = &d
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found != nil {
		s.metrics.RecordIntegrityViolation(ctx)
		s.logger.Error("ledger integrity violation",
			zap.String("product_id", key.ProductID.String()),
			zap.String("location_id", key.LocationID.String()),
			zap.String("balance", found.Balance.String()),
			zap.String("folded", found.Folded.String()),
		)
	}
	return found, nil
}

// Unfreeze resets a frozen balance to the fold of its history. Location
// usage is left alone: it only ever moves with committed movements, so it
// already agrees with the fold.
func (s *IntegrityService) Unfreeze(ctx context.Context, productID, locationID uuid.UUID) (*ledger.Balance, error) {
	key := ledger.Key{ProductID: productID, LocationID: locationID}
	var out *ledger.Balance
	err := retryOnConflict(ctx, s.maxAttempts, func() error {
		return s.scope.Execute(ctx, func(tx TransactionalRepositories) error {
			b, err := tx.Balances().Find(ctx, productID, locationID)
			if err != nil {
				return err
			}
			folded, err := FoldKey(ctx, tx.Movements(), key)
			if err != nil {
				return err
			}
			if err := b.Unfreeze(folded); err != nil {
				return err
			}
			if err := tx.Balances().SaveWithLock(ctx, b); err != nil {
				return err
			}
			out = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("balance unfrozen",
		zap.String("product_id", productID.String()),
		zap.String("location_id", locationID.String()),
		zap.String("quantity", out.Quantity.String()),
	)
	return out, nil
}
