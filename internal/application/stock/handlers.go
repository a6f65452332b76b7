package stock

import (
	"context"
	"fmt"

	"github.com/erp/stockledger/internal/domain/analytics"
	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/shared"
	"go.uber.org/zap"
)

// StockStatusHandler reclassifies a product after each committed movement
// and warns when it drops to low or out of stock
type StockStatusHandler struct {
	analytics *AnalyticsService
	logger    *zap.Logger
}

// NewStockStatusHandler creates a StockStatusHandler
func NewStockStatusHandler(analyticsService *AnalyticsService, logger *zap.Logger) *StockStatusHandler {
	return &StockStatusHandler{analytics: analyticsService, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *StockStatusHandler) EventTypes() []string {
	return []string{ledger.EventTypeMovementCommitted}
}

// Handle processes a MovementCommittedEvent
func (h *StockStatusHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	committed, ok := event.(*ledger.MovementCommittedEvent)
	if !ok {
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			ledger.EventTypeMovementCommitted, event.EventType())
	}
	if committed.QuantityDelta.IsPositive() || committed.MovementType == ledger.MovementTypeTransfer {
		// the product total did not drop
		return nil
	}

	status, total, err := h.analytics.Status(ctx, committed.ProductID)
	if err != nil {
		return fmt.Errorf("failed to classify product %s: %w", committed.ProductID, err)
	}

	switch status {
	case analytics.StatusOutOfStock, analytics.StatusLowStock:
		h.logger.Warn("product stock is running low",
			zap.String("product_id", committed.ProductID.String()),
			zap.String("status", string(status)),
			zap.String("total", total.String()),
			zap.String("movement_id", committed.MovementID.String()),
		)
	default:
		h.logger.Debug("product stock status",
			zap.String("product_id", committed.ProductID.String()),
			zap.String("status", string(status)),
		)
	}
	return nil
}

// IntegrityAlertHandler reports frozen balances
type IntegrityAlertHandler struct {
	logger *zap.Logger
}

// NewIntegrityAlertHandler creates an IntegrityAlertHandler
func NewIntegrityAlertHandler(logger *zap.Logger) *IntegrityAlertHandler {
	return &IntegrityAlertHandler{logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *IntegrityAlertHandler) EventTypes() []string {
	return []string{ledger.EventTypeLedgerIntegrityViolated}
}

// Handle processes a LedgerIntegrityViolatedEvent
func (h *IntegrityAlertHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	violated, ok := event.(*ledger.LedgerIntegrityViolatedEvent)
	if !ok {
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			ledger.EventTypeLedgerIntegrityViolated, event.EventType())
	}
	h.logger.Error("balance frozen after integrity check",
		zap.String("product_id", violated.ProductID.String()),
		zap.String("location_id", violated.LocationID.String()),
		zap.String("balance", violated.Balance.String()),
		zap.String("folded", violated.Folded.String()),
		zap.String("event_id", violated.EventID().String()),
	)
	return nil
}
