package models

import (
	"time"

	"github.com/erp/stockledger/internal/domain/analytics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockPolicyModel holds the thresholds of one product
type StockPolicyModel struct {
	ProductID    uuid.UUID       `gorm:"type:uuid;primaryKey"`
	MinQuantity  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	MaxQuantity  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	ReorderPoint decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TargetMax    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	MOQ          decimal.Decimal `gorm:"column:moq;type:decimal(18,4);not null;default:0"`
	UnitCost     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (StockPolicyModel) TableName() string {
	return "stock_policies"
}

// ToDomain converts the persistence model to a domain StockPolicy
func (m *StockPolicyModel) ToDomain() *analytics.StockPolicy {
	return &analytics.StockPolicy{
		ProductID:    m.ProductID,
		MinQuantity:  m.MinQuantity,
		MaxQuantity:  m.MaxQuantity,
		ReorderPoint: m.ReorderPoint,
		TargetMax:    m.TargetMax,
		MOQ:          m.MOQ,
		UnitCost:     m.UnitCost,
		UpdatedAt:    m.UpdatedAt,
	}
}

// StockPolicyModelFromDomain creates a new persistence model from a domain StockPolicy
func StockPolicyModelFromDomain(p *analytics.StockPolicy) *StockPolicyModel {
	return &StockPolicyModel{
		ProductID:    p.ProductID,
		MinQuantity:  p.MinQuantity,
		MaxQuantity:  p.MaxQuantity,
		ReorderPoint: p.ReorderPoint,
		TargetMax:    p.TargetMax,
		MOQ:          p.MOQ,
		UnitCost:     p.UnitCost,
		UpdatedAt:    p.UpdatedAt,
	}
}

// AllModels lists every persisted model, in dependency order
func AllModels() []any {
	return []any{
		&LocationModel{},
		&StockBalanceModel{},
		&StockMovementModel{},
		&PendingMovementModel{},
		&StockPolicyModel{},
		&OutboxEntryModel{},
	}
}
