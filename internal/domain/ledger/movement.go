package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementType is the kind of a committed stock change
type MovementType string

const (
	MovementTypeReceive    MovementType = "receive"
	MovementTypeShip       MovementType = "ship"
	MovementTypeTransfer   MovementType = "transfer"
	MovementTypeAdjustment MovementType = "adjustment"
	MovementTypeCycleCount MovementType = "cycle_count"
)

// IsValid checks if the movement type is known
func (t MovementType) IsValid() bool {
	switch t {
	case MovementTypeReceive, MovementTypeShip, MovementTypeTransfer,
		MovementTypeAdjustment, MovementTypeCycleCount:
		return true
	}
	return false
}

// String returns the string representation
func (t MovementType) String() string {
	return string(t)
}

// AdjustmentMode selects how an adjustment quantity is interpreted
type AdjustmentMode string

const (
	AdjustmentPositive AdjustmentMode = "positive"
	AdjustmentNegative AdjustmentMode = "negative"
	// AdjustmentAbsolute sets the balance to the given quantity
	AdjustmentAbsolute AdjustmentMode = "absolute"
)

// IsValid checks if the adjustment mode is known
func (m AdjustmentMode) IsValid() bool {
	return m == AdjustmentPositive || m == AdjustmentNegative || m == AdjustmentAbsolute
}

// Movement is an immutable committed change to one or two balances.
// CommitSequence is assigned by the store when the movement is appended.
type Movement struct {
	ID             uuid.UUID
	IdempotencyID  string
	ProductID      uuid.UUID
	FromLocationID *uuid.UUID
	ToLocationID   *uuid.UUID
	QuantityDelta  decimal.Decimal
	Type           MovementType
	AdjustmentMode AdjustmentMode
	Reference      string
	Operator       string
	Reason         string
	OccurredAt     time.Time
	CommitSequence int64
}

// Effect is the signed change a movement makes to one balance
type Effect struct {
	LocationID uuid.UUID
	Delta      decimal.Decimal
}

// Effects returns the per-location balance changes of the movement.
// A transfer moves QuantityDelta from its source to its destination;
// every other movement changes the single location it names.
func (m *Movement) Effects() []Effect {
	if m.Type == MovementTypeTransfer && m.FromLocationID != nil && m.ToLocationID != nil {
		return []Effect{
			{LocationID: *m.FromLocationID, Delta: m.QuantityDelta.Neg()},
			{LocationID: *m.ToLocationID, Delta: m.QuantityDelta},
		}
	}
	if m.ToLocationID != nil {
		return []Effect{{LocationID: *m.ToLocationID, Delta: m.QuantityDelta}}
	}
	if m.FromLocationID != nil {
		return []Effect{{LocationID: *m.FromLocationID, Delta: m.QuantityDelta}}
	}
	return nil
}

// NetDelta returns the change to the product's total across all locations
func (m *Movement) NetDelta() decimal.Decimal {
	total := decimal.Zero
	for _, e := range m.Effects() {
		total = total.Add(e.Delta)
	}
	return total
}

// ShippedQuantity returns the quantity that left the warehouse, zero for non-shipments
func (m *Movement) ShippedQuantity() decimal.Decimal {
	if m.Type != MovementTypeShip {
		return decimal.Zero
	}
	return m.QuantityDelta.Neg()
}

// TouchesLocation reports whether the movement changes the given location
func (m *Movement) TouchesLocation(id uuid.UUID) bool {
	return (m.FromLocationID != nil && *m.FromLocationID == id) ||
		(m.ToLocationID != nil && *m.ToLocationID == id)
}
