package analytics

import (
	"context"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Classification is the derived analytics snapshot of one product
type Classification struct {
	ProductID       uuid.UUID        `json:"product_id"`
	TotalQuantity   decimal.Decimal  `json:"total_quantity"`
	Status          StockStatus      `json:"stock_status"`
	TurnoverRate    decimal.Decimal  `json:"turnover_rate"`
	DaysOfInventory *decimal.Decimal `json:"days_of_inventory,omitempty"`
	ABCClass        ABCClass         `json:"abc_class"`
	ReorderQuantity *decimal.Decimal `json:"reorder_qty,omitempty"`
	AsOf            time.Time        `json:"as_of"`
	WindowDays      int              `json:"window_days"`
}

const (
	AggregateTypeProduct = "Product"

	EventTypeReorderRecommended = "ReorderRecommended"
)

// ReorderRecommendedEvent is raised by the analytics refresh for products at or below their reorder point
type ReorderRecommendedEvent struct {
	shared.EventHeader
	ProductID    uuid.UUID       `json:"product_id"`
	Balance      decimal.Decimal `json:"balance"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// NewReorderRecommendedEvent creates a ReorderRecommendedEvent
func NewReorderRecommendedEvent(c Classification, policy StockPolicy) *ReorderRecommendedEvent {
	e := &ReorderRecommendedEvent{
		EventHeader:  shared.NewEventHeader(EventTypeReorderRecommended, AggregateTypeProduct, c.ProductID),
		ProductID:    c.ProductID,
		Balance:      c.TotalQuantity,
		ReorderPoint: policy.ReorderPoint,
	}
	if c.ReorderQuantity != nil {
		e.Quantity = *c.ReorderQuantity
	}
	return e
}

// PolicyRepository reads stock policies
type PolicyRepository interface {
	// FindByProduct returns shared.ErrNotFound for products without a policy
	FindByProduct(ctx context.Context, productID uuid.UUID) (*StockPolicy, error)
	FindAll(ctx context.Context) ([]*StockPolicy, error)
	Save(ctx context.Context, policy *StockPolicy) error
}
