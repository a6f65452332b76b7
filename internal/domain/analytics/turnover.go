package analytics

import (
	"sort"
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// Window is a trailing period of whole days ending at To
type Window struct {
	From time.Time
	To   time.Time
	Days int
}

// NewWindow returns the days-long window ending at asOf
func NewWindow(asOf time.Time, days int) Window {
	if days < 1 {
		days = 1
	}
	return Window{From: asOf.Add(-time.Duration(days) * day), To: asOf, Days: days}
}

// AverageInventory reconstructs the end-of-day totals of the window backwards
// from current (the total at w.To) and returns their mean. movements are the
// product's movements inside the window, in any order.
func AverageInventory(current decimal.Decimal, movements []*ledger.Movement, w Window) decimal.Decimal {
	sorted := make([]*ledger.Movement, len(movements))
	copy(sorted, movements)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.After(sorted[j].OccurredAt)
	})

	sum := decimal.Zero
	level := current
	next := 0
	for d := 0; d < w.Days; d++ {
		end := w.To.Add(-time.Duration(d) * day)
		for next < len(sorted) && sorted[next].OccurredAt.After(end) {
			level = level.Sub(sorted[next].NetDelta())
			next++
		}
		sum = sum.Add(decimal.Max(level, decimal.Zero))
	}
	return sum.Div(decimal.NewFromInt(int64(w.Days)))
}

// ShippedQuantity sums the quantity shipped by movements
func ShippedQuantity(movements []*ledger.Movement) decimal.Decimal {
	total := decimal.Zero
	for _, m := range movements {
		total = total.Add(m.ShippedQuantity())
	}
	return total
}

// TurnoverRate is shipped / average inventory, zero when there was no inventory
func TurnoverRate(shipped, avgInventory decimal.Decimal) decimal.Decimal {
	if !avgInventory.IsPositive() {
		return decimal.Zero
	}
	return shipped.Div(avgInventory).Round(4)
}

// DaysOfInventory is how long the average inventory lasts at the window's
// shipping rate. It is nil when nothing shipped.
func DaysOfInventory(shipped, avgInventory decimal.Decimal, windowDays int) *decimal.Decimal {
	if !shipped.IsPositive() || windowDays < 1 {
		return nil
	}
	daily := shipped.Div(decimal.NewFromInt(int64(windowDays)))
	d := avgInventory.Div(daily).Round(2)
	return &d
}
