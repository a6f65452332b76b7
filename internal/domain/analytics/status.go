package analytics

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockStatus is the derived availability of a product
type StockStatus string

const (
	StatusInStock    StockStatus = "in_stock"
	StatusLowStock   StockStatus = "low_stock"
	StatusOutOfStock StockStatus = "out_of_stock"
	StatusOverstock  StockStatus = "overstock"
)

// StockPolicy holds the externally maintained thresholds of a product.
// Zero values disable the corresponding rule.
type StockPolicy struct {
	ProductID    uuid.UUID       `json:"product_id"`
	MinQuantity  decimal.Decimal `json:"min_quantity"`
	MaxQuantity  decimal.Decimal `json:"max_quantity"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	TargetMax    decimal.Decimal `json:"target_max"`
	MOQ          decimal.Decimal `json:"moq"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DefaultPolicy returns an all-zero policy for products without thresholds
func DefaultPolicy(productID uuid.UUID) StockPolicy {
	return StockPolicy{ProductID: productID}
}

// ClassifyStatus compares the total across all locations with the policy thresholds
func ClassifyStatus(total decimal.Decimal, policy StockPolicy) StockStatus {
	switch {
	case !total.IsPositive():
		return StatusOutOfStock
	case total.LessThanOrEqual(policy.MinQuantity):
		return StatusLowStock
	case policy.MaxQuantity.IsPositive() && total.GreaterThanOrEqual(policy.MaxQuantity):
		return StatusOverstock
	}
	return StatusInStock
}

// RecommendReorder returns the quantity to order when the balance is at or
// below the reorder point: TargetMax - balance, raised to the supplier MOQ.
// It reports false when nothing should be ordered.
func RecommendReorder(balance decimal.Decimal, policy StockPolicy) (decimal.Decimal, bool) {
	if balance.GreaterThan(policy.ReorderPoint) {
		return decimal.Zero, false
	}
	qty := decimal.Max(policy.TargetMax.Sub(balance), decimal.Zero)
	if qty.IsZero() {
		return decimal.Zero, false
	}
	if qty.LessThan(policy.MOQ) {
		qty = policy.MOQ
	}
	return qty, true
}
