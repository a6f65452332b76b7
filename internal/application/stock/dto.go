package stock

import (
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/location"
	"github.com/erp/stockledger/internal/domain/pending"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubmitMovementCommand is a movement intent as received from a caller
type SubmitMovementCommand struct {
	IdempotencyID   string          `json:"idempotency_id" validate:"required,max=128"`
	ProductID       string          `json:"product_id" validate:"required,uuid"`
	Type            string          `json:"type" validate:"required,oneof=receive ship transfer adjustment cycle_count"`
	AdjustmentMode  string          `json:"adjustment_mode,omitempty" validate:"omitempty,oneof=positive negative absolute"`
	Quantity        decimal.Decimal `json:"quantity"`
	FromLocationID  string          `json:"from_location_id,omitempty" validate:"omitempty,uuid"`
	ToLocationID    string          `json:"to_location_id,omitempty" validate:"omitempty,uuid"`
	ReleaseReserved decimal.Decimal `json:"release_reserved"`
	Reference       string          `json:"reference,omitempty" validate:"max=100"`
	Operator        string          `json:"operator,omitempty" validate:"max=100"`
	Reason          string          `json:"reason,omitempty" validate:"max=255"`
	OccurredAt      *time.Time      `json:"occurred_at,omitempty"`
}

// ToIntent converts a validated command into a ledger intent
func (c SubmitMovementCommand) ToIntent() ledger.Intent {
	intent := ledger.Intent{
		IdempotencyID:   c.IdempotencyID,
		ProductID:       uuid.MustParse(c.ProductID),
		Type:            ledger.MovementType(c.Type),
		AdjustmentMode:  ledger.AdjustmentMode(c.AdjustmentMode),
		Quantity:        c.Quantity,
		FromLocationID:  optionalID(c.FromLocationID),
		ToLocationID:    optionalID(c.ToLocationID),
		ReleaseReserved: c.ReleaseReserved,
		Reference:       c.Reference,
		Operator:        c.Operator,
		Reason:          c.Reason,
	}
	if c.OccurredAt != nil {
		intent.OccurredAt = *c.OccurredAt
	}
	return intent
}

// CreateLocationCommand creates one node of the location hierarchy
type CreateLocationCommand struct {
	WarehouseID string          `json:"warehouse_id" validate:"required,uuid"`
	ParentID    string          `json:"parent_id,omitempty" validate:"omitempty,uuid"`
	Code        string          `json:"code" validate:"required,max=20"`
	Type        string          `json:"type" validate:"required,oneof=storage receiving shipping quality_control staging"`
	Capacity    decimal.Decimal `json:"capacity"`
}

// StartPendingCommand starts a multi-scan receive or pick workflow
type StartPendingCommand struct {
	Kind             string          `json:"kind" validate:"required,oneof=receive pick"`
	ProductID        string          `json:"product_id" validate:"required,uuid"`
	LocationID       string          `json:"location_id" validate:"required,uuid"`
	ExpectedQuantity decimal.Decimal `json:"expected_quantity"`
	Operator         string          `json:"operator,omitempty" validate:"max=100"`
	Reference        string          `json:"reference,omitempty" validate:"max=100"`
}

// ScanEvent is one scan of a pending workflow
type ScanEvent struct {
	PendingMovementID string          `json:"pending_movement_id" validate:"required,uuid"`
	ScannedDelta      decimal.Decimal `json:"scanned_delta"`
	// Operator identifies the scanner or user, for logging only
	Operator string `json:"operator,omitempty" validate:"max=100"`
}

// ScanResult is the outcome of a scan. Movement is set when the scan completed the workflow.
type ScanResult struct {
	Pending  *pending.PendingMovement
	Movement *ledger.Movement
}

// Completed reports whether the scan committed the workflow's movement
func (r *ScanResult) Completed() bool {
	return r.Movement != nil
}

// BalanceResponse is a balance query result
type BalanceResponse struct {
	ProductID  uuid.UUID       `json:"product_id"`
	LocationID *uuid.UUID      `json:"location_id,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reserved   decimal.Decimal `json:"reserved"`
	Available  decimal.Decimal `json:"available"`
	Version    int             `json:"version"`
	Frozen     bool            `json:"frozen,omitempty"`
}

// ToBalanceResponse converts a balance to its response
func ToBalanceResponse(b *ledger.Balance) BalanceResponse {
	loc := b.LocationID
	return BalanceResponse{
		ProductID:  b.ProductID,
		LocationID: &loc,
		Quantity:   b.Quantity,
		Reserved:   b.Reserved,
		Available:  b.Available(),
		Version:    b.Version,
		Frozen:     b.Frozen,
	}
}

// LocationTreeNode is one node of a rendered location tree
type LocationTreeNode struct {
	ID           uuid.UUID             `json:"id"`
	Key          string                `json:"key"`
	Level        location.Level        `json:"level"`
	Type         location.LocationType `json:"type"`
	Capacity     decimal.Decimal       `json:"capacity"`
	CurrentUsage decimal.Decimal       `json:"current_usage"`
	OnHold       bool                  `json:"on_hold"`
	Children     []*LocationTreeNode   `json:"children,omitempty"`
}

func optionalID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id := uuid.MustParse(s)
	return &id
}
