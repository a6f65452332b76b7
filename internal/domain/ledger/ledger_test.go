package ledger

import (
	"testing"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapView map[Key]*Balance

func (v mapView) Balance(productID, locationID uuid.UUID) (*Balance, error) {
	k := Key{ProductID: productID, LocationID: locationID}
	if b, ok := v[k]; ok {
		return b, nil
	}
	b := NewBalance(productID, locationID)
	v[k] = b
	return b, nil
}

func (v mapView) seed(productID, locationID uuid.UUID, qty int64) *Balance {
	b := NewBalance(productID, locationID)
	b.Quantity = decimal.NewFromInt(qty)
	b.Version = 1
	v[b.Key()] = b
	return b
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func TestBalance_Apply(t *testing.T) {
	product, loc := uuid.New(), uuid.New()
	at := time.Now()

	t.Run("first change makes a new balance", func(t *testing.T) {
		b := NewBalance(product, loc)
		assert.Equal(t, 0, b.Version)

		require.NoError(t, b.Apply(dec(10), decimal.Zero, false, at))
		assert.True(t, b.IsNew())
		assert.Equal(t, 1, b.Version)
		assert.True(t, dec(10).Equal(b.Quantity))
		require.NotNil(t, b.LastMovementAt)
	})

	t.Run("negative result is rejected without mutation", func(t *testing.T) {
		b := NewBalance(product, loc)
		require.NoError(t, b.Apply(dec(5), decimal.Zero, false, at))
		b.MarkPersisted()

		err := b.Apply(dec(-6), decimal.Zero, false, at)
		assert.ErrorIs(t, err, ErrInsufficientStock)
		assert.True(t, dec(5).Equal(b.Quantity))
		assert.False(t, b.IsModified())
	})

	t.Run("reserved stock cannot be taken without release", func(t *testing.T) {
		b := NewBalance(product, loc)
		require.NoError(t, b.Apply(dec(10), decimal.Zero, false, at))
		require.NoError(t, b.Reserve(dec(8)))
		assert.True(t, dec(2).Equal(b.Available()))

		assert.ErrorIs(t, b.Apply(dec(-5), decimal.Zero, false, at), ErrInsufficientStock)
		require.NoError(t, b.Apply(dec(-5), dec(5), false, at))
		assert.True(t, dec(5).Equal(b.Quantity))
		assert.True(t, dec(3).Equal(b.Reserved))
	})

	t.Run("absolute counts clamp the reservation", func(t *testing.T) {
		b := NewBalance(product, loc)
		require.NoError(t, b.Apply(dec(10), decimal.Zero, false, at))
		require.NoError(t, b.Reserve(dec(8)))

		require.NoError(t, b.Apply(dec(-6), decimal.Zero, true, at))
		assert.True(t, dec(4).Equal(b.Quantity))
		assert.True(t, dec(4).Equal(b.Reserved))
	})

	t.Run("frozen balance rejects writes", func(t *testing.T) {
		b := NewBalance(product, loc)
		b.Freeze("drift")
		assert.ErrorIs(t, b.Apply(dec(1), decimal.Zero, false, at), ErrLedgerIntegrity)
		assert.ErrorIs(t, b.Reserve(dec(1)), ErrLedgerIntegrity)

		require.NoError(t, b.Unfreeze(dec(7)))
		assert.False(t, b.Frozen)
		assert.True(t, dec(7).Equal(b.Quantity))
		assert.ErrorIs(t, b.Unfreeze(dec(7)), shared.ErrInvalidState)
	})

	t.Run("release reservation is bounded by what is reserved", func(t *testing.T) {
		b := NewBalance(product, loc)
		require.NoError(t, b.Apply(dec(10), decimal.Zero, false, at))
		require.NoError(t, b.Reserve(dec(4)))

		released, err := b.ReleaseReservation(dec(6))
		require.NoError(t, err)
		assert.True(t, dec(4).Equal(released))
		assert.True(t, b.Reserved.IsZero())
	})
}

func TestIntent_Validate(t *testing.T) {
	product, a, b := uuid.New(), uuid.New(), uuid.New()
	base := Intent{IdempotencyID: "k1", ProductID: product, Quantity: dec(5)}

	tests := []struct {
		name    string
		mutate  func(i *Intent)
		wantErr bool
	}{
		{"receive ok", func(i *Intent) { i.Type = MovementTypeReceive; i.ToLocationID = &a }, false},
		{"receive with source", func(i *Intent) {
			i.Type = MovementTypeReceive
			i.ToLocationID, i.FromLocationID = &a, &b
		}, true},
		{"ship ok", func(i *Intent) { i.Type = MovementTypeShip; i.FromLocationID = &a }, false},
		{"ship without source", func(i *Intent) { i.Type = MovementTypeShip; i.ToLocationID = &a }, true},
		{"transfer ok", func(i *Intent) {
			i.Type = MovementTypeTransfer
			i.FromLocationID, i.ToLocationID = &a, &b
		}, false},
		{"transfer to itself", func(i *Intent) {
			i.Type = MovementTypeTransfer
			i.FromLocationID, i.ToLocationID = &a, &a
		}, true},
		{"adjustment without mode", func(i *Intent) { i.Type = MovementTypeAdjustment; i.ToLocationID = &a }, true},
		{"absolute adjustment to zero", func(i *Intent) {
			i.Type = MovementTypeAdjustment
			i.AdjustmentMode = AdjustmentAbsolute
			i.Quantity = decimal.Zero
			i.ToLocationID = &a
		}, false},
		{"zero quantity receive", func(i *Intent) {
			i.Type = MovementTypeReceive
			i.Quantity = decimal.Zero
			i.ToLocationID = &a
		}, true},
		{"cycle count with two locations", func(i *Intent) {
			i.Type = MovementTypeCycleCount
			i.FromLocationID, i.ToLocationID = &a, &b
		}, true},
		{"release on receive", func(i *Intent) {
			i.Type = MovementTypeReceive
			i.ToLocationID = &a
			i.ReleaseReserved = dec(1)
		}, true},
		{"missing idempotency id", func(i *Intent) {
			i.Type = MovementTypeReceive
			i.ToLocationID = &a
			i.IdempotencyID = " "
		}, true},
		{"unknown type", func(i *Intent) { i.Type = "teleport"; i.ToLocationID = &a }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := base
			tt.mutate(&intent)
			err := intent.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMovement)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDispatcher_Plan(t *testing.T) {
	d := DefaultDispatcher()
	product := uuid.New()
	binX, binY := uuid.New(), uuid.New()

	t.Run("receive reserves capacity at the destination", func(t *testing.T) {
		view := mapView{}
		plan, err := d.Plan(Intent{
			IdempotencyID: "r1", ProductID: product, Type: MovementTypeReceive,
			Quantity: dec(20), ToLocationID: ptr(binX),
		}, view)
		require.NoError(t, err)

		assert.True(t, dec(20).Equal(plan.Movement.QuantityDelta))
		require.Len(t, plan.Capacity, 1)
		assert.False(t, plan.Capacity[0].Release)
		require.NoError(t, plan.ApplyChanges())
		assert.True(t, dec(20).Equal(view[Key{product, binX}].Quantity))
	})

	t.Run("ship takes from available stock", func(t *testing.T) {
		view := mapView{}
		b := view.seed(product, binX, 25)
		plan, err := d.Plan(Intent{
			IdempotencyID: "s1", ProductID: product, Type: MovementTypeShip,
			Quantity: dec(10), FromLocationID: ptr(binX),
		}, view)
		require.NoError(t, err)
		assert.True(t, dec(-10).Equal(plan.Movement.QuantityDelta))
		assert.True(t, plan.Capacity[0].Release)

		require.NoError(t, plan.ApplyChanges())
		assert.True(t, dec(15).Equal(b.Quantity))
	})

	t.Run("ship cannot touch reserved stock it does not release", func(t *testing.T) {
		view := mapView{}
		b := view.seed(product, binX, 10)
		require.NoError(t, b.Reserve(dec(8)))

		_, err := d.Plan(Intent{
			IdempotencyID: "s2", ProductID: product, Type: MovementTypeShip,
			Quantity: dec(5), FromLocationID: ptr(binX),
		}, view)
		assert.ErrorIs(t, err, ErrInsufficientStock)

		plan, err := d.Plan(Intent{
			IdempotencyID: "s3", ProductID: product, Type: MovementTypeShip,
			Quantity: dec(5), FromLocationID: ptr(binX), ReleaseReserved: dec(5),
		}, view)
		require.NoError(t, err)
		require.NoError(t, plan.ApplyChanges())
		assert.True(t, dec(3).Equal(b.Reserved))
	})

	t.Run("transfer changes both keys", func(t *testing.T) {
		view := mapView{}
		view.seed(product, binX, 30)
		plan, err := d.Plan(Intent{
			IdempotencyID: "t1", ProductID: product, Type: MovementTypeTransfer,
			Quantity: dec(12), FromLocationID: ptr(binX), ToLocationID: ptr(binY),
		}, view)
		require.NoError(t, err)
		require.Len(t, plan.Changes, 2)
		require.Len(t, plan.Capacity, 2)
		assert.True(t, plan.Capacity[0].Release)
		assert.Equal(t, binY, plan.Capacity[1].LocationID)

		require.NoError(t, plan.ApplyChanges())
		assert.True(t, dec(18).Equal(view[Key{product, binX}].Quantity))
		assert.True(t, dec(12).Equal(view[Key{product, binY}].Quantity))
		assert.True(t, plan.Movement.NetDelta().IsZero())
	})

	t.Run("transfer beyond source is insufficient", func(t *testing.T) {
		view := mapView{}
		view.seed(product, binX, 3)
		_, err := d.Plan(Intent{
			IdempotencyID: "t2", ProductID: product, Type: MovementTypeTransfer,
			Quantity: dec(4), FromLocationID: ptr(binX), ToLocationID: ptr(binY),
		}, view)
		assert.ErrorIs(t, err, ErrInsufficientStock)
	})

	t.Run("absolute adjustment computes delta from the current balance", func(t *testing.T) {
		view := mapView{}
		view.seed(product, binX, 40)
		plan, err := d.Plan(Intent{
			IdempotencyID: "a1", ProductID: product, Type: MovementTypeAdjustment,
			AdjustmentMode: AdjustmentAbsolute, Quantity: dec(32), ToLocationID: ptr(binX),
		}, view)
		require.NoError(t, err)

		m := plan.Movement
		assert.True(t, dec(-8).Equal(m.QuantityDelta))
		assert.Nil(t, m.ToLocationID)
		require.NotNil(t, m.FromLocationID)
		assert.Equal(t, binX, *m.FromLocationID)
		assert.True(t, plan.Capacity[0].Release)
		assert.True(t, dec(8).Equal(plan.Capacity[0].Quantity))
	})

	t.Run("cycle count with no change still records a movement", func(t *testing.T) {
		view := mapView{}
		view.seed(product, binX, 9)
		plan, err := d.Plan(Intent{
			IdempotencyID: "c1", ProductID: product, Type: MovementTypeCycleCount,
			Quantity: dec(9), FromLocationID: ptr(binX),
		}, view)
		require.NoError(t, err)
		assert.Equal(t, MovementTypeCycleCount, plan.Movement.Type)
		assert.Equal(t, AdjustmentAbsolute, plan.Movement.AdjustmentMode)
		assert.True(t, plan.Movement.QuantityDelta.IsZero())
		assert.Empty(t, plan.Capacity)
		require.NotNil(t, plan.Movement.ToLocationID)
	})

	t.Run("negative adjustment beyond available is insufficient", func(t *testing.T) {
		view := mapView{}
		view.seed(product, binX, 2)
		_, err := d.Plan(Intent{
			IdempotencyID: "n1", ProductID: product, Type: MovementTypeAdjustment,
			AdjustmentMode: AdjustmentNegative, Quantity: dec(3), FromLocationID: ptr(binX),
		}, view)
		assert.ErrorIs(t, err, ErrInsufficientStock)
	})

	t.Run("frozen balance rejects planning", func(t *testing.T) {
		view := mapView{}
		view.seed(product, binX, 2).Freeze("drift")
		_, err := d.Plan(Intent{
			IdempotencyID: "f1", ProductID: product, Type: MovementTypeReceive,
			Quantity: dec(1), ToLocationID: ptr(binX),
		}, view)
		assert.ErrorIs(t, err, ErrLedgerIntegrity)
	})

	t.Run("unregistered type", func(t *testing.T) {
		partial := NewDispatcher(receiveHandler{})
		_, err := partial.Plan(Intent{
			IdempotencyID: "x", ProductID: product, Type: MovementTypeShip,
			Quantity: dec(1), FromLocationID: ptr(binX),
		}, mapView{})
		assert.ErrorIs(t, err, ErrUnknownMovementType)
	})
}

func TestFoldAndReconcile(t *testing.T) {
	product := uuid.New()
	binX, binY := uuid.New(), uuid.New()

	movements := []*Movement{
		{ProductID: product, Type: MovementTypeReceive, ToLocationID: ptr(binX), QuantityDelta: dec(50), CommitSequence: 1},
		{ProductID: product, Type: MovementTypeTransfer, FromLocationID: ptr(binX), ToLocationID: ptr(binY), QuantityDelta: dec(20), CommitSequence: 2},
		{ProductID: product, Type: MovementTypeShip, FromLocationID: ptr(binY), QuantityDelta: dec(-5), CommitSequence: 3},
		{ProductID: product, Type: MovementTypeAdjustment, FromLocationID: ptr(binX), QuantityDelta: dec(-1), CommitSequence: 4},
	}
	folded := Fold(movements)

	assert.True(t, dec(29).Equal(folded[Key{product, binX}]))
	assert.True(t, dec(15).Equal(folded[Key{product, binY}]))
	assert.True(t, dec(44).Equal(Total(folded)))

	x := NewBalance(product, binX)
	x.Quantity = dec(29)
	y := NewBalance(product, binY)
	y.Quantity = dec(16)

	diffs := Reconcile([]*Balance{x, y}, folded)
	require.Len(t, diffs, 1)
	assert.Equal(t, binY, diffs[0].Key.LocationID)
	assert.True(t, dec(1).Equal(diffs[0].Difference()))

	t.Run("missing balance row counts as zero", func(t *testing.T) {
		diffs := Reconcile([]*Balance{x}, folded)
		require.Len(t, diffs, 1)
		assert.True(t, diffs[0].Balance.IsZero())
	})
}

func TestMovementFilter_Matches(t *testing.T) {
	product, loc := uuid.New(), uuid.New()
	now := time.Now()
	m := &Movement{ProductID: product, Type: MovementTypeShip, FromLocationID: ptr(loc), OccurredAt: now, CommitSequence: 7}

	assert.True(t, MovementFilter{}.Matches(m))
	assert.True(t, MovementFilter{LocationID: ptr(loc), Types: []MovementType{MovementTypeShip}}.Matches(m))
	assert.False(t, MovementFilter{Types: []MovementType{MovementTypeReceive}}.Matches(m))
	assert.False(t, MovementFilter{AfterSequence: 7}.Matches(m))
	later := now.Add(time.Hour)
	assert.False(t, MovementFilter{From: &later}.Matches(m))
	assert.True(t, MovementFilter{To: &later}.Matches(m))
	assert.True(t, dec(10).Equal((&Movement{Type: MovementTypeShip, QuantityDelta: dec(-10)}).ShippedQuantity()))
}
