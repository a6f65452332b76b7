package models

import (
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockBalanceModel is the persistence model for a materialized balance.
// There is at most one row per product and location.
type StockBalanceModel struct {
	AggregateModel
	ProductID      uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_balance_product_location,priority:1"`
	LocationID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_balance_product_location,priority:2;index"`
	Quantity       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Reserved       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	LastMovementAt *time.Time
	Frozen         bool   `gorm:"not null;default:false;index"`
	FrozenReason   string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (StockBalanceModel) TableName() string {
	return "stock_balances"
}

// ToDomain converts the persistence model to a loaded domain Balance
func (m *StockBalanceModel) ToDomain() *ledger.Balance {
	return &ledger.Balance{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		ProductID:         m.ProductID,
		LocationID:        m.LocationID,
		Quantity:          m.Quantity,
		Reserved:          m.Reserved,
		LastMovementAt:    m.LastMovementAt,
		Frozen:            m.Frozen,
		FrozenReason:      m.FrozenReason,
	}
}

// FromDomain populates the persistence model from a domain Balance
func (m *StockBalanceModel) FromDomain(b *ledger.Balance) {
	m.FromDomainAggregateRoot(b.BaseAggregateRoot)
	m.ProductID = b.ProductID
	m.LocationID = b.LocationID
	m.Quantity = b.Quantity
	m.Reserved = b.Reserved
	m.LastMovementAt = b.LastMovementAt
	m.Frozen = b.Frozen
	m.FrozenReason = b.FrozenReason
}

// StockBalanceModelFromDomain creates a new persistence model from a domain Balance
func StockBalanceModelFromDomain(b *ledger.Balance) *StockBalanceModel {
	m := &StockBalanceModel{}
	m.FromDomain(b)
	return m
}

// StockMovementModel is one row of the append-only movement log.
// CommitSequence is assigned by the database on insert and orders the log.
type StockMovementModel struct {
	CommitSequence int64           `gorm:"primaryKey;autoIncrement"`
	ID             uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	IdempotencyID  string          `gorm:"type:varchar(200);not null;uniqueIndex"`
	ProductID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_movement_product_occurred,priority:1"`
	FromLocationID *uuid.UUID      `gorm:"type:uuid;index"`
	ToLocationID   *uuid.UUID      `gorm:"type:uuid;index"`
	QuantityDelta  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Type           string          `gorm:"column:movement_type;type:varchar(20);not null"`
	AdjustmentMode string          `gorm:"type:varchar(20)"`
	Reference      string          `gorm:"type:varchar(200)"`
	Operator       string          `gorm:"type:varchar(100)"`
	Reason         string          `gorm:"type:text"`
	OccurredAt     time.Time       `gorm:"not null;index:idx_movement_product_occurred,priority:2"`
	CreatedAt      time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (StockMovementModel) TableName() string {
	return "stock_movements"
}

// ToDomain converts the persistence model to a domain Movement
func (m *StockMovementModel) ToDomain() *ledger.Movement {
	return &ledger.Movement{
		ID:             m.ID,
		IdempotencyID:  m.IdempotencyID,
		ProductID:      m.ProductID,
		FromLocationID: m.FromLocationID,
		ToLocationID:   m.ToLocationID,
		QuantityDelta:  m.QuantityDelta,
		Type:           ledger.MovementType(m.Type),
		AdjustmentMode: ledger.AdjustmentMode(m.AdjustmentMode),
		Reference:      m.Reference,
		Operator:       m.Operator,
		Reason:         m.Reason,
		OccurredAt:     m.OccurredAt,
		CommitSequence: m.CommitSequence,
	}
}

// StockMovementModelFromDomain creates a new persistence model from a domain Movement.
// CommitSequence is left zero so the database assigns it.
func StockMovementModelFromDomain(mv *ledger.Movement) *StockMovementModel {
	return &StockMovementModel{
		ID:             mv.ID,
		IdempotencyID:  mv.IdempotencyID,
		ProductID:      mv.ProductID,
		FromLocationID: mv.FromLocationID,
		ToLocationID:   mv.ToLocationID,
		QuantityDelta:  mv.QuantityDelta,
		Type:           string(mv.Type),
		AdjustmentMode: string(mv.AdjustmentMode),
		Reference:      mv.Reference,
		Operator:       mv.Operator,
		Reason:         mv.Reason,
		OccurredAt:     mv.OccurredAt,
		CreatedAt:      time.Now(),
	}
}
