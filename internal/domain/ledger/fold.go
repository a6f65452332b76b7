package ledger

import (
	"bytes"
	"sort"

	"github.com/shopspring/decimal"
)

// Fold replays movements into per-key quantities
func Fold(movements []*Movement) map[Key]decimal.Decimal {
	folded := make(map[Key]decimal.Decimal)
	FoldInto(folded, movements)
	return folded
}

// FoldInto adds the effects of movements to an existing fold, for paging through history
func FoldInto(folded map[Key]decimal.Decimal, movements []*Movement) {
	for _, m := range movements {
		for _, e := range m.Effects() {
			k := Key{ProductID: m.ProductID, LocationID: e.LocationID}
			folded[k] = folded[k].Add(e.Delta)
		}
	}
}

// Discrepancy is a balance that disagrees with its folded history
type Discrepancy struct {
	Key     Key
	Balance decimal.Decimal
	Folded  decimal.Decimal
}

// Difference returns Balance - Folded
func (d Discrepancy) Difference() decimal.Decimal {
	return d.Balance.Sub(d.Folded)
}

// Reconcile compares materialized balances with a fold. Keys present on only
// one side count as zero on the other. Results are ordered by key.
func Reconcile(balances []*Balance, folded map[Key]decimal.Decimal) []Discrepancy {
	seen := make(map[Key]bool, len(balances))
	var out []Discrepancy
	for _, b := range balances {
		k := b.Key()
		seen[k] = true
		f := folded[k]
		if !b.Quantity.Equal(f) {
			out = append(out, Discrepancy{Key: k, Balance: b.Quantity, Folded: f})
		}
	}
	for k, f := range folded {
		if !seen[k] && !f.IsZero() {
			out = append(out, Discrepancy{Key: k, Balance: decimal.Zero, Folded: f})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if c := bytes.Compare(a.ProductID[:], b.ProductID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.LocationID[:], b.LocationID[:]) < 0
	})
	return out
}

// Total sums the folded quantity of one product over all locations
func Total(folded map[Key]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, q := range folded {
		total = total.Add(q)
	}
	return total
}
