package models

import (
	"time"

	"github.com/erp/stockledger/internal/domain/pending"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PendingMovementModel is the persistence model for the PendingMovement aggregate root
type PendingMovementModel struct {
	AggregateModel
	Kind             string          `gorm:"type:varchar(10);not null"`
	ProductID        uuid.UUID       `gorm:"type:uuid;not null;index"`
	LocationID       uuid.UUID       `gorm:"type:uuid;not null"`
	ExpectedQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ScannedQuantity  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Tolerance        decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	ReservedQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Status           string          `gorm:"type:varchar(20);not null;index:idx_pending_status_created,priority:1"`
	Operator         string          `gorm:"type:varchar(100)"`
	Reference        string          `gorm:"type:varchar(200)"`
	MovementID       *uuid.UUID      `gorm:"type:uuid"`
	CompletedAt      *time.Time
	CancelledAt      *time.Time
}

// TableName returns the table name for GORM
func (PendingMovementModel) TableName() string {
	return "pending_movements"
}

// ToDomain converts the persistence model to a loaded domain PendingMovement
func (m *PendingMovementModel) ToDomain() *pending.PendingMovement {
	return &pending.PendingMovement{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Kind:              pending.Kind(m.Kind),
		ProductID:         m.ProductID,
		LocationID:        m.LocationID,
		ExpectedQuantity:  m.ExpectedQuantity,
		ScannedQuantity:   m.ScannedQuantity,
		Tolerance:         m.Tolerance,
		ReservedQuantity:  m.ReservedQuantity,
		Status:            pending.Status(m.Status),
		Operator:          m.Operator,
		Reference:         m.Reference,
		MovementID:        m.MovementID,
		CompletedAt:       m.CompletedAt,
		CancelledAt:       m.CancelledAt,
	}
}

// FromDomain populates the persistence model from a domain PendingMovement
func (m *PendingMovementModel) FromDomain(p *pending.PendingMovement) {
	m.FromDomainAggregateRoot(p.BaseAggregateRoot)
	m.Kind = string(p.Kind)
	m.ProductID = p.ProductID
	m.LocationID = p.LocationID
	m.ExpectedQuantity = p.ExpectedQuantity
	m.ScannedQuantity = p.ScannedQuantity
	m.Tolerance = p.Tolerance
	m.ReservedQuantity = p.ReservedQuantity
	m.Status = string(p.Status)
	m.Operator = p.Operator
	m.Reference = p.Reference
	m.MovementID = p.MovementID
	m.CompletedAt = p.CompletedAt
	m.CancelledAt = p.CancelledAt
}

// PendingMovementModelFromDomain creates a new persistence model from a domain PendingMovement
func PendingMovementModelFromDomain(p *pending.PendingMovement) *PendingMovementModel {
	m := &PendingMovementModel{}
	m.FromDomain(p)
	return m
}
