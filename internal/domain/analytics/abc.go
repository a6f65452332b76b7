package analytics

import (
	"fmt"
	"sort"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ABCClass is the Pareto tier of a product
type ABCClass string

const (
	ClassA ABCClass = "A"
	ClassB ABCClass = "B"
	ClassC ABCClass = "C"
)

var hundred = decimal.NewFromInt(100)

// ABCThresholds are the cumulative percentage upper bounds of classes A and B
type ABCThresholds struct {
	A decimal.Decimal
	B decimal.Decimal
}

// DefaultABCThresholds returns the 80/95 split
func DefaultABCThresholds() ABCThresholds {
	return ABCThresholds{A: decimal.NewFromInt(80), B: decimal.NewFromInt(95)}
}

// Validate checks 0 < A <= B <= 100
func (t ABCThresholds) Validate() error {
	if !t.A.IsPositive() || t.A.GreaterThan(t.B) || t.B.GreaterThan(hundred) {
		return shared.NewDomainError("INVALID_ABC_THRESHOLDS",
			fmt.Sprintf("ABC thresholds must satisfy 0 < A <= B <= 100, got %s/%s", t.A, t.B))
	}
	return nil
}

// Usage is the usage value of one product over a period
type Usage struct {
	ProductID uuid.UUID
	Value     decimal.Decimal
}

// ABCResult is the class of one product with its cumulative share
type ABCResult struct {
	ProductID     uuid.UUID       `json:"product_id"`
	Value         decimal.Decimal `json:"value"`
	CumulativePct decimal.Decimal `json:"cumulative_pct"`
	Class         ABCClass        `json:"class"`
	Rank          int             `json:"rank"`
}

// AnnualUsageValue annualises a window's shipped quantity and prices it at unitCost
func AnnualUsageValue(shipped decimal.Decimal, windowDays int, unitCost decimal.Decimal) decimal.Decimal {
	if windowDays < 1 {
		return decimal.Zero
	}
	return shipped.Mul(decimal.NewFromInt(365)).Div(decimal.NewFromInt(int64(windowDays))).Mul(unitCost)
}

// ClassifyABC ranks usages by value descending, ties by ascending product id,
// and assigns A while the cumulative share stays within t.A, B within t.B and
// C for the rest. With a zero total every product is C.
func ClassifyABC(usages []Usage, t ABCThresholds) []ABCResult {
	ranked := make([]Usage, len(usages))
	copy(ranked, usages)
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].Value.Cmp(ranked[j].Value); c != 0 {
			return c > 0
		}
		return ranked[i].ProductID.String() < ranked[j].ProductID.String()
	})

	total := decimal.Zero
	for _, u := range ranked {
		total = total.Add(u.Value)
	}

	results := make([]ABCResult, len(ranked))
	cumulative := decimal.Zero
	for i, u := range ranked {
		r := ABCResult{ProductID: u.ProductID, Value: u.Value, Rank: i + 1, Class: ClassC}
		if total.IsPositive() {
			cumulative = cumulative.Add(u.Value)
			r.CumulativePct = cumulative.Mul(hundred).Div(total).Round(4)
			switch {
			case r.CumulativePct.LessThanOrEqual(t.A):
				r.Class = ClassA
			case r.CumulativePct.LessThanOrEqual(t.B):
				r.Class = ClassB
			}
		}
		results[i] = r
	}
	return results
}
