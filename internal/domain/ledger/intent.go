package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Intent is a request to move stock. Quantity is a positive magnitude for
// receive, ship, transfer and positive/negative adjustments, and the target
// balance for absolute adjustments and cycle counts.
type Intent struct {
	IdempotencyID  string
	ProductID      uuid.UUID
	Type           MovementType
	AdjustmentMode AdjustmentMode
	Quantity       decimal.Decimal
	FromLocationID *uuid.UUID
	ToLocationID   *uuid.UUID
	// ReleaseReserved is the part of a shipment covered by a pick reservation
	ReleaseReserved decimal.Decimal
	Reference       string
	Operator        string
	Reason          string
	OccurredAt      time.Time
}

// IsAbsolute reports whether the intent sets a balance rather than changing it
func (i Intent) IsAbsolute() bool {
	return i.Type == MovementTypeCycleCount ||
		(i.Type == MovementTypeAdjustment && i.AdjustmentMode == AdjustmentAbsolute)
}

// Location returns the single location of a non-transfer intent
func (i Intent) Location() (uuid.UUID, bool) {
	if i.ToLocationID != nil {
		return *i.ToLocationID, true
	}
	if i.FromLocationID != nil {
		return *i.FromLocationID, true
	}
	return uuid.Nil, false
}

// Validate checks the intent shape for its movement type
func (i Intent) Validate() error {
	if strings.TrimSpace(i.IdempotencyID) == "" {
		return invalid("idempotency ID is required")
	}
	if i.ProductID == uuid.Nil {
		return invalid("product ID is required")
	}
	if !i.Type.IsValid() {
		return invalid(fmt.Sprintf("unknown movement type %q", i.Type))
	}
	if i.Quantity.IsNegative() {
		return invalid("quantity cannot be negative")
	}
	if !i.IsAbsolute() && !i.Quantity.IsPositive() {
		return invalid("quantity must be positive")
	}
	if !i.ReleaseReserved.IsZero() {
		if i.Type != MovementTypeShip {
			return invalid("only shipments can release reserved stock")
		}
		if i.ReleaseReserved.IsNegative() || i.ReleaseReserved.GreaterThan(i.Quantity) {
			return invalid("released reservation must be between zero and the shipped quantity")
		}
	}

	hasFrom, hasTo := i.FromLocationID != nil, i.ToLocationID != nil
	switch i.Type {
	case MovementTypeReceive:
		if !hasTo || hasFrom {
			return invalid("receive needs a destination and no source")
		}
	case MovementTypeShip:
		if !hasFrom || hasTo {
			return invalid("ship needs a source and no destination")
		}
	case MovementTypeTransfer:
		if !hasFrom || !hasTo {
			return invalid("transfer needs a source and a destination")
		}
		if *i.FromLocationID == *i.ToLocationID {
			return invalid("transfer source and destination must differ")
		}
	case MovementTypeAdjustment:
		if !i.AdjustmentMode.IsValid() {
			return invalid(fmt.Sprintf("unknown adjustment mode %q", i.AdjustmentMode))
		}
		if hasFrom == hasTo {
			return invalid("adjustment needs exactly one location")
		}
	case MovementTypeCycleCount:
		if i.AdjustmentMode != "" && i.AdjustmentMode != AdjustmentAbsolute {
			return invalid("cycle count is always absolute")
		}
		if hasFrom == hasTo {
			return invalid("cycle count needs exactly one location")
		}
	}
	return nil
}

func invalid(msg string) error {
	return shared.NewDomainError("INVALID_MOVEMENT", "Invalid movement: "+msg)
}
