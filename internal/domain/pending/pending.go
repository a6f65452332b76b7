package pending

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const AggregateTypePendingMovement = "PendingMovement"

var (
	ErrPendingNotFound = shared.NewDomainError("NOT_FOUND", "Pending movement not found")
	ErrOverageRejected = shared.NewDomainError("PENDING_OVERAGE_REJECTED", "Scan exceeds expected quantity plus tolerance")
	ErrPendingClosed   = shared.NewDomainError("PENDING_CLOSED", "Pending movement is already completed or cancelled")
	ErrInvalidScan     = shared.NewDomainError("INVALID_SCAN", "Scanned quantity must be positive")
	ErrInvalidPending  = shared.NewDomainError("INVALID_PENDING_MOVEMENT", "Invalid pending movement")
)

// Kind is the workflow a pending movement tracks
type Kind string

const (
	KindReceive Kind = "receive"
	KindPick    Kind = "pick"
)

// IsValid checks if the kind is known
func (k Kind) IsValid() bool {
	return k == KindReceive || k == KindPick
}

// Status is the state of a pending movement
type Status string

const (
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsValid checks if the status is known
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsOpen reports whether scans are still accepted
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusPartial
}

// String returns the string representation
func (s Status) String() string {
	return string(s)
}

// CanTransitionTo checks if the status can transition to the target status
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusPartial || target == StatusCompleted || target == StatusCancelled
	case StatusPartial:
		return target == StatusPartial || target == StatusCompleted || target == StatusCancelled
	case StatusCompleted, StatusCancelled:
		return false
	}
	return false
}

// PendingMovement accumulates scans of a receive or pick workflow until the
// expected quantity is reached. Scans never touch the ledger; completion
// commits exactly one movement.
type PendingMovement struct {
	shared.BaseAggregateRoot
	Kind             Kind
	ProductID        uuid.UUID
	LocationID       uuid.UUID
	ExpectedQuantity decimal.Decimal
	ScannedQuantity  decimal.Decimal
	// Tolerance is the absolute overage accepted above ExpectedQuantity
	Tolerance decimal.Decimal
	// ReservedQuantity is the balance reservation held by a pick
	ReservedQuantity decimal.Decimal
	Status           Status
	Operator         string
	Reference        string
	MovementID       *uuid.UUID
	CompletedAt      *time.Time
	CancelledAt      *time.Time
}

// NewPendingMovement starts a receive or pick workflow
func NewPendingMovement(kind Kind, productID, locationID uuid.UUID, expected, tolerance decimal.Decimal, operator, reference string) (*PendingMovement, error) {
	if !kind.IsValid() {
		return nil, shared.NewDomainError("INVALID_PENDING_MOVEMENT", fmt.Sprintf("Unknown pending kind %q", kind))
	}
	if productID == uuid.Nil || locationID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PENDING_MOVEMENT", "Product and location are required")
	}
	if !expected.IsPositive() {
		return nil, shared.NewDomainError("INVALID_PENDING_MOVEMENT", "Expected quantity must be positive")
	}
	if tolerance.IsNegative() {
		return nil, shared.NewDomainError("INVALID_PENDING_MOVEMENT", "Tolerance cannot be negative")
	}

	return &PendingMovement{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Kind:              kind,
		ProductID:         productID,
		LocationID:        locationID,
		ExpectedQuantity:  expected,
		ScannedQuantity:   decimal.Zero,
		Tolerance:         tolerance,
		ReservedQuantity:  decimal.Zero,
		Status:            StatusPending,
		Operator:          strings.TrimSpace(operator),
		Reference:         strings.TrimSpace(reference),
	}, nil
}

// ToleranceFromPercent converts an overage percentage of expected into an absolute tolerance
func ToleranceFromPercent(expected, pct decimal.Decimal) decimal.Decimal {
	if !pct.IsPositive() {
		return decimal.Zero
	}
	return expected.Mul(pct).Div(decimal.NewFromInt(100))
}

// Limit returns the most that may be scanned
func (p *PendingMovement) Limit() decimal.Decimal {
	return p.ExpectedQuantity.Add(p.Tolerance)
}

// RecordScan adds a scanned quantity. It reports whether the expected
// quantity has been reached, in which case the caller commits the movement
// and calls Complete. A rejected scan leaves the workflow unchanged.
func (p *PendingMovement) RecordScan(delta decimal.Decimal) (bool, error) {
	if !p.Status.IsOpen() {
		return false, shared.NewDomainError("PENDING_CLOSED",
			fmt.Sprintf("Pending movement %s is %s", p.ID, p.Status))
	}
	if !delta.IsPositive() {
		return false, ErrInvalidScan
	}
	scanned := p.ScannedQuantity.Add(delta)
	if scanned.GreaterThan(p.Limit()) {
		return false, shared.NewDomainError("PENDING_OVERAGE_REJECTED",
			fmt.Sprintf("Scanned %s would exceed %s (expected %s + tolerance %s)",
				scanned, p.Limit(), p.ExpectedQuantity, p.Tolerance))
	}

	p.ScannedQuantity = scanned
	reached := !scanned.LessThan(p.ExpectedQuantity)
	if !reached {
		p.Status = StatusPartial
	}
	p.MarkModified()
	return reached, nil
}

// FinalIntent returns the movement a completed scan commits. The idempotency
// id is derived from the workflow id so the movement is applied at most once.
func (p *PendingMovement) FinalIntent() ledger.Intent {
	loc := p.LocationID
	intent := ledger.Intent{
		IdempotencyID: IdempotencyID(p.ID),
		ProductID:     p.ProductID,
		Quantity:      p.ScannedQuantity,
		Reference:     p.Reference,
		Operator:      p.Operator,
		Reason:        "pending " + string(p.Kind) + " completed",
		OccurredAt:    time.Now(),
	}
	switch p.Kind {
	case KindReceive:
		intent.Type = ledger.MovementTypeReceive
		intent.ToLocationID = &loc
	case KindPick:
		intent.Type = ledger.MovementTypeShip
		intent.FromLocationID = &loc
		intent.ReleaseReserved = decimal.Min(p.ReservedQuantity, p.ScannedQuantity)
	}
	return intent
}

// IdempotencyID returns the movement idempotency id of a pending workflow
func IdempotencyID(id uuid.UUID) string {
	return "pending:" + id.String()
}

// Reserve records the balance reservation taken when a pick starts
func (p *PendingMovement) Reserve(qty decimal.Decimal) {
	p.ReservedQuantity = qty
	p.MarkModified()
}

// Complete closes the workflow with the committed movement
func (p *PendingMovement) Complete(movementID uuid.UUID) error {
	if !p.Status.CanTransitionTo(StatusCompleted) {
		return shared.NewDomainError("PENDING_CLOSED",
			fmt.Sprintf("Cannot transition from %s to completed", p.Status))
	}
	if p.ScannedQuantity.LessThan(p.ExpectedQuantity) {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Scanned %s of %s expected", p.ScannedQuantity, p.ExpectedQuantity))
	}

	now := time.Now()
	p.Status = StatusCompleted
	p.MovementID = &movementID
	p.CompletedAt = &now
	p.ReservedQuantity = decimal.Zero
	p.MarkModified()

	p.AddDomainEvent(NewCompletedEvent(p))
	return nil
}

// Cancel abandons the workflow. Scan history is discarded; the caller
// releases any pick reservation, reported by the returned quantity.
func (p *PendingMovement) Cancel(reason string) (decimal.Decimal, error) {
	if !p.Status.CanTransitionTo(StatusCancelled) {
		return decimal.Zero, shared.NewDomainError("PENDING_CLOSED",
			fmt.Sprintf("Cannot transition from %s to cancelled", p.Status))
	}

	released := p.ReservedQuantity
	now := time.Now()
	p.Status = StatusCancelled
	p.ScannedQuantity = decimal.Zero
	p.ReservedQuantity = decimal.Zero
	p.CancelledAt = &now
	p.MarkModified()

	p.AddDomainEvent(NewCancelledEvent(p, reason))
	return released, nil
}

// IsExpired reports whether an open workflow is older than maxAge
func (p *PendingMovement) IsExpired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && p.Status.IsOpen() && now.Sub(p.CreatedAt) > maxAge
}
