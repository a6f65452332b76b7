package analytics

import (
	"testing"
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestClassifyStatus(t *testing.T) {
	policy := StockPolicy{MinQuantity: dec(5), MaxQuantity: dec(100)}

	tests := []struct {
		total int64
		want  StockStatus
	}{
		{0, StatusOutOfStock},
		{3, StatusLowStock},
		{5, StatusLowStock},
		{15, StatusInStock},
		{100, StatusOverstock},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(dec(tt.total), policy), "total %d", tt.total)
	}

	assert.Equal(t, StatusInStock, ClassifyStatus(dec(1000), StockPolicy{}))
}

func TestRecommendReorder(t *testing.T) {
	policy := StockPolicy{ReorderPoint: dec(20), TargetMax: dec(100), MOQ: dec(50)}

	_, ok := RecommendReorder(dec(21), policy)
	assert.False(t, ok)

	qty, ok := RecommendReorder(dec(20), policy)
	require.True(t, ok)
	assert.True(t, dec(80).Equal(qty))

	qty, ok = RecommendReorder(dec(20), StockPolicy{ReorderPoint: dec(20), TargetMax: dec(30), MOQ: dec(50)})
	require.True(t, ok)
	assert.True(t, dec(50).Equal(qty), "raised to MOQ")

	_, ok = RecommendReorder(dec(0), StockPolicy{})
	assert.False(t, ok)
}

func TestTurnover(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	loc := uuid.New()
	w := NewWindow(now, 2)

	movements := []*ledger.Movement{
		{Type: ledger.MovementTypeShip, FromLocationID: &loc, QuantityDelta: dec(-10), OccurredAt: now.Add(-time.Hour)},
	}

	avg := AverageInventory(dec(15), movements, w)
	assert.True(t, dec(20).Equal(avg), "got %s", avg)

	shipped := ShippedQuantity(movements)
	assert.True(t, dec(10).Equal(shipped))
	assert.True(t, decimal.RequireFromString("0.5").Equal(TurnoverRate(shipped, avg)))

	doi := DaysOfInventory(shipped, avg, w.Days)
	require.NotNil(t, doi)
	assert.True(t, dec(4).Equal(*doi))

	assert.Nil(t, DaysOfInventory(decimal.Zero, avg, w.Days))
	assert.True(t, TurnoverRate(shipped, decimal.Zero).IsZero())
}

func TestClassifyABC(t *testing.T) {
	ids := []uuid.UUID{
		uuid.MustParse("00000000-0000-0000-0000-000000000005"),
		uuid.MustParse("00000000-0000-0000-0000-000000000004"),
		uuid.MustParse("00000000-0000-0000-0000-000000000003"),
		uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
	}
	// the two 100-value products are given in descending id order
	usages := []Usage{
		{ProductID: ids[2], Value: dec(300)},
		{ProductID: ids[0], Value: dec(100)},
		{ProductID: ids[4], Value: dec(1000)},
		{ProductID: ids[1], Value: dec(100)},
		{ProductID: ids[3], Value: dec(500)},
	}

	results := ClassifyABC(usages, DefaultABCThresholds())
	require.Len(t, results, 5)

	var classes []ABCClass
	for _, r := range results {
		classes = append(classes, r.Class)
	}
	assert.Equal(t, []ABCClass{ClassA, ClassA, ClassB, ClassB, ClassC}, classes)
	assert.Equal(t, ids[1], results[3].ProductID)
	assert.Equal(t, ids[0], results[4].ProductID)
	assert.True(t, hundred.Equal(results[4].CumulativePct))

	again := ClassifyABC(usages, DefaultABCThresholds())
	assert.Equal(t, results, again)

	t.Run("zero total is all C", func(t *testing.T) {
		res := ClassifyABC([]Usage{{ProductID: ids[0]}, {ProductID: ids[1]}}, DefaultABCThresholds())
		for _, r := range res {
			assert.Equal(t, ClassC, r.Class)
		}
	})

	t.Run("thresholds are validated", func(t *testing.T) {
		assert.NoError(t, DefaultABCThresholds().Validate())
		assert.Error(t, ABCThresholds{A: dec(96), B: dec(95)}.Validate())
	})
}

func TestAnnualUsageValue(t *testing.T) {
	v := AnnualUsageValue(dec(30), 365, decimal.RequireFromString("2.5"))
	assert.True(t, dec(75).Equal(v))
	assert.True(t, AnnualUsageValue(dec(30), 0, dec(1)).IsZero())
}
