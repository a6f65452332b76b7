package ledger

import (
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerView gives handlers read access to current balances.
// A missing balance is returned as an empty, unsaved Balance.
type LedgerView interface {
	Balance(productID, locationID uuid.UUID) (*Balance, error)
}

// BalanceChange is one balance write of a plan
type BalanceChange struct {
	Balance         *Balance
	Delta           decimal.Decimal
	ReleaseReserved decimal.Decimal
	ClampReserved   bool
}

// CapacityOp reserves or releases location capacity
type CapacityOp struct {
	LocationID uuid.UUID
	Quantity   decimal.Decimal
	Release    bool
}

// Plan is everything one movement does: capacity first, then balances,
// then the movement record, all in one transaction.
type Plan struct {
	Movement *Movement
	Changes  []BalanceChange
	Capacity []CapacityOp
}

// ApplyChanges applies the balance changes to the loaded balances
func (p *Plan) ApplyChanges() error {
	for _, ch := range p.Changes {
		if err := ch.Balance.Apply(ch.Delta, ch.ReleaseReserved, ch.ClampReserved, p.Movement.OccurredAt); err != nil {
			return err
		}
	}
	return nil
}

// Handler turns a validated intent of one movement type into a plan
type Handler interface {
	Type() MovementType
	Apply(intent Intent, view LedgerView) (*Plan, error)
}

// Dispatcher routes intents to the handler registered for their type
type Dispatcher struct {
	handlers map[MovementType]Handler
}

// NewDispatcher creates a dispatcher from handlers
func NewDispatcher(handlers ...Handler) *Dispatcher {
	d := &Dispatcher{handlers: make(map[MovementType]Handler, len(handlers))}
	for _, h := range handlers {
		d.handlers[h.Type()] = h
	}
	return d
}

// DefaultDispatcher registers a handler for every movement type
func DefaultDispatcher() *Dispatcher {
	return NewDispatcher(
		receiveHandler{},
		shipHandler{},
		transferHandler{},
		adjustmentHandler{},
		cycleCountHandler{},
	)
}

// Plan validates the intent and builds its plan against view
func (d *Dispatcher) Plan(intent Intent, view LedgerView) (*Plan, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	h, ok := d.handlers[intent.Type]
	if !ok {
		return nil, shared.NewDomainError("UNKNOWN_MOVEMENT_TYPE",
			fmt.Sprintf("No handler registered for %s", intent.Type))
	}
	return h.Apply(intent, view)
}

type receiveHandler struct{}

func (receiveHandler) Type() MovementType { return MovementTypeReceive }

func (receiveHandler) Apply(intent Intent, view LedgerView) (*Plan, error) {
	to := *intent.ToLocationID
	b, err := writableBalance(view, intent.ProductID, to)
	if err != nil {
		return nil, err
	}
	m := newMovement(intent, intent.Quantity)
	return &Plan{
		Movement: m,
		Changes:  []BalanceChange{{Balance: b, Delta: intent.Quantity}},
		Capacity: []CapacityOp{{LocationID: to, Quantity: intent.Quantity}},
	}, nil
}

type shipHandler struct{}

func (shipHandler) Type() MovementType { return MovementTypeShip }

func (shipHandler) Apply(intent Intent, view LedgerView) (*Plan, error) {
	from := *intent.FromLocationID
	b, err := writableBalance(view, intent.ProductID, from)
	if err != nil {
		return nil, err
	}
	release := decimal.Min(intent.ReleaseReserved, b.Reserved)
	if intent.Quantity.GreaterThan(b.Available().Add(release)) {
		return nil, insufficient(b, intent.Quantity)
	}
	m := newMovement(intent, intent.Quantity.Neg())
	return &Plan{
		Movement: m,
		Changes:  []BalanceChange{{Balance: b, Delta: intent.Quantity.Neg(), ReleaseReserved: release}},
		Capacity: []CapacityOp{{LocationID: from, Quantity: intent.Quantity, Release: true}},
	}, nil
}

type transferHandler struct{}

func (transferHandler) Type() MovementType { return MovementTypeTransfer }

func (transferHandler) Apply(intent Intent, view LedgerView) (*Plan, error) {
	from, to := *intent.FromLocationID, *intent.ToLocationID
	src, err := writableBalance(view, intent.ProductID, from)
	if err != nil {
		return nil, err
	}
	dst, err := writableBalance(view, intent.ProductID, to)
	if err != nil {
		return nil, err
	}
	if intent.Quantity.GreaterThan(src.Available()) {
		return nil, insufficient(src, intent.Quantity)
	}
	m := newMovement(intent, intent.Quantity)
	return &Plan{
		Movement: m,
		Changes: []BalanceChange{
			{Balance: src, Delta: intent.Quantity.Neg()},
			{Balance: dst, Delta: intent.Quantity},
		},
		// release first so a move inside one bounded subtree nets to zero
		Capacity: []CapacityOp{
			{LocationID: from, Quantity: intent.Quantity, Release: true},
			{LocationID: to, Quantity: intent.Quantity},
		},
	}, nil
}

type adjustmentHandler struct{}

func (adjustmentHandler) Type() MovementType { return MovementTypeAdjustment }

func (adjustmentHandler) Apply(intent Intent, view LedgerView) (*Plan, error) {
	loc, _ := intent.Location()
	b, err := writableBalance(view, intent.ProductID, loc)
	if err != nil {
		return nil, err
	}

	var delta decimal.Decimal
	switch intent.AdjustmentMode {
	case AdjustmentPositive:
		delta = intent.Quantity
	case AdjustmentNegative:
		if intent.Quantity.GreaterThan(b.Available()) {
			return nil, insufficient(b, intent.Quantity)
		}
		delta = intent.Quantity.Neg()
	case AdjustmentAbsolute:
		return absolutePlan(intent, b), nil
	}
	return singleLocationPlan(intent, b, delta, false), nil
}

type cycleCountHandler struct{}

func (cycleCountHandler) Type() MovementType { return MovementTypeCycleCount }

func (cycleCountHandler) Apply(intent Intent, view LedgerView) (*Plan, error) {
	loc, _ := intent.Location()
	b, err := writableBalance(view, intent.ProductID, loc)
	if err != nil {
		return nil, err
	}
	intent.AdjustmentMode = AdjustmentAbsolute
	return absolutePlan(intent, b), nil
}

// absolutePlan sets the balance to intent.Quantity. The delta is computed from
// the balance as read; the version check at commit rejects a stale read.
func absolutePlan(intent Intent, b *Balance) *Plan {
	delta := intent.Quantity.Sub(b.Quantity)
	return singleLocationPlan(intent, b, delta, true)
}

func singleLocationPlan(intent Intent, b *Balance, delta decimal.Decimal, clamp bool) *Plan {
	loc := b.LocationID
	intent.FromLocationID, intent.ToLocationID = nil, nil
	if delta.IsNegative() {
		intent.FromLocationID = &loc
	} else {
		intent.ToLocationID = &loc
	}

	plan := &Plan{
		Movement: newMovement(intent, delta),
		Changes:  []BalanceChange{{Balance: b, Delta: delta, ClampReserved: clamp}},
	}
	switch {
	case delta.IsPositive():
		plan.Capacity = []CapacityOp{{LocationID: loc, Quantity: delta}}
	case delta.IsNegative():
		plan.Capacity = []CapacityOp{{LocationID: loc, Quantity: delta.Neg(), Release: true}}
	}
	return plan
}

func newMovement(intent Intent, delta decimal.Decimal) *Movement {
	occurred := intent.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	m := &Movement{
		ID:             uuid.New(),
		IdempotencyID:  intent.IdempotencyID,
		ProductID:      intent.ProductID,
		QuantityDelta:  delta,
		Type:           intent.Type,
		AdjustmentMode: intent.AdjustmentMode,
		Reference:      intent.Reference,
		Operator:       intent.Operator,
		Reason:         intent.Reason,
		OccurredAt:     occurred,
	}
	if intent.FromLocationID != nil {
		from := *intent.FromLocationID
		m.FromLocationID = &from
	}
	if intent.ToLocationID != nil {
		to := *intent.ToLocationID
		m.ToLocationID = &to
	}
	return m
}

func writableBalance(view LedgerView, productID, locationID uuid.UUID) (*Balance, error) {
	b, err := view.Balance(productID, locationID)
	if err != nil {
		return nil, err
	}
	if err := b.CheckWritable(); err != nil {
		return nil, err
	}
	return b, nil
}

func insufficient(b *Balance, requested decimal.Decimal) error {
	return shared.NewDomainError("INSUFFICIENT_STOCK",
		fmt.Sprintf("Balance %s has %s available, requested %s", b.Key(), b.Available(), requested))
}
