package ledger

import (
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const AggregateTypeBalance = "StockBalance"

var (
	ErrInsufficientStock    = shared.NewDomainError("INSUFFICIENT_STOCK", "Insufficient stock available")
	ErrLedgerIntegrity      = shared.NewDomainError("LEDGER_INTEGRITY_VIOLATION", "Balance is frozen pending reconciliation")
	ErrInvalidMovement      = shared.NewDomainError("INVALID_MOVEMENT", "Invalid movement")
	ErrDuplicateIdempotency = shared.NewDomainError("DUPLICATE_IDEMPOTENCY_ID", "Idempotency ID already committed")
	ErrInvalidReservation   = shared.NewDomainError("INVALID_RESERVATION", "Invalid stock reservation")
	ErrUnknownMovementType  = shared.NewDomainError("UNKNOWN_MOVEMENT_TYPE", "No handler for movement type")
)

// Key identifies a balance row
type Key struct {
	ProductID  uuid.UUID
	LocationID uuid.UUID
}

// String returns "product@location"
func (k Key) String() string {
	return k.ProductID.String() + "@" + k.LocationID.String()
}

// Balance is the materialized quantity of one product at one location.
// Reserved is the part of Quantity promised to open pick workflows.
type Balance struct {
	shared.BaseAggregateRoot
	ProductID      uuid.UUID
	LocationID     uuid.UUID
	Quantity       decimal.Decimal
	Reserved       decimal.Decimal
	LastMovementAt *time.Time
	Frozen         bool
	FrozenReason   string
}

// NewBalance creates an empty, unsaved balance. Its version stays at 0
// until the first change, which makes it an insert.
func NewBalance(productID, locationID uuid.UUID) *Balance {
	return &Balance{
		BaseAggregateRoot: shared.BaseAggregateRoot{BaseEntity: shared.NewBaseEntity()},
		ProductID:         productID,
		LocationID:        locationID,
		Quantity:          decimal.Zero,
		Reserved:          decimal.Zero,
	}
}

// Key returns the balance key
func (b *Balance) Key() Key {
	return Key{ProductID: b.ProductID, LocationID: b.LocationID}
}

// Available returns quantity not promised to pick workflows
func (b *Balance) Available() decimal.Decimal {
	return b.Quantity.Sub(b.Reserved)
}

// CheckWritable returns ErrLedgerIntegrity for frozen balances
func (b *Balance) CheckWritable() error {
	if b.Frozen {
		return shared.NewDomainError("LEDGER_INTEGRITY_VIOLATION",
			fmt.Sprintf("Balance %s is frozen: %s", b.Key(), b.FrozenReason))
	}
	return nil
}

// Apply changes the quantity by delta, consuming releaseReserved units of
// the reservation first. With clampReserved the reservation shrinks to fit
// the new quantity instead of rejecting the change (used by absolute counts).
func (b *Balance) Apply(delta, releaseReserved decimal.Decimal, clampReserved bool, at time.Time) error {
	if err := b.CheckWritable(); err != nil {
		return err
	}
	if releaseReserved.IsNegative() || releaseReserved.GreaterThan(b.Reserved) {
		return shared.NewDomainError("INVALID_RESERVATION",
			fmt.Sprintf("Cannot release %s of %s reserved on %s", releaseReserved, b.Reserved, b.Key()))
	}

	newQty := b.Quantity.Add(delta)
	if newQty.IsNegative() {
		return shared.NewDomainError("INSUFFICIENT_STOCK",
			fmt.Sprintf("Balance %s is %s, cannot apply %s", b.Key(), b.Quantity, delta))
	}
	newReserved := b.Reserved.Sub(releaseReserved)
	if newQty.LessThan(newReserved) {
		if !clampReserved {
			return shared.NewDomainError("INSUFFICIENT_STOCK",
				fmt.Sprintf("Balance %s has %s available, cannot apply %s", b.Key(), b.Available(), delta))
		}
		newReserved = newQty
	}

	b.Quantity = newQty
	b.Reserved = newReserved
	t := at
	b.LastMovementAt = &t
	b.MarkModified()
	return nil
}

// Reserve promises qty available units to a pick workflow
func (b *Balance) Reserve(qty decimal.Decimal) error {
	if err := b.CheckWritable(); err != nil {
		return err
	}
	if !qty.IsPositive() {
		return shared.NewDomainError("INVALID_RESERVATION", "Reservation quantity must be positive")
	}
	if qty.GreaterThan(b.Available()) {
		return shared.NewDomainError("INSUFFICIENT_STOCK",
			fmt.Sprintf("Balance %s has %s available, cannot reserve %s", b.Key(), b.Available(), qty))
	}
	b.Reserved = b.Reserved.Add(qty)
	b.MarkModified()
	return nil
}

// ReleaseReservation returns up to qty reserved units; it reports how much was released
func (b *Balance) ReleaseReservation(qty decimal.Decimal) (decimal.Decimal, error) {
	if err := b.CheckWritable(); err != nil {
		return decimal.Zero, err
	}
	if qty.IsNegative() {
		return decimal.Zero, shared.NewDomainError("INVALID_RESERVATION", "Release quantity cannot be negative")
	}
	released := decimal.Min(qty, b.Reserved)
	if released.IsZero() {
		return released, nil
	}
	b.Reserved = b.Reserved.Sub(released)
	b.MarkModified()
	return released, nil
}

// Freeze halts writes to the balance until it is reconciled manually
func (b *Balance) Freeze(reason string) {
	if b.Frozen {
		return
	}
	b.Frozen = true
	b.FrozenReason = reason
	b.MarkModified()
}

// Unfreeze resets the balance to the reconciled quantity and allows writes again
func (b *Balance) Unfreeze(reconciled decimal.Decimal) error {
	if !b.Frozen {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Balance %s is not frozen", b.Key()))
	}
	if reconciled.IsNegative() {
		return shared.NewDomainError("INVALID_QUANTITY", "Reconciled quantity cannot be negative")
	}
	b.Frozen = false
	b.FrozenReason = ""
	b.Quantity = reconciled
	if b.Reserved.GreaterThan(reconciled) {
		b.Reserved = reconciled
	}
	b.MarkModified()
	return nil
}
