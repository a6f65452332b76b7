package location

import (
	"fmt"
	"sort"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const noParent = -1

// Hierarchy is an arena-indexed location tree. Nodes live in a flat slice and
// refer to each other by index, so there are no pointer cycles and every node
// has exactly one parent fixed at insertion.
type Hierarchy struct {
	nodes    []*Location
	parent   []int
	children [][]int
	byID     map[uuid.UUID]int
	byKey    map[string]int

	// bin capacity and count under each node, kept up to date on Add
	binCapacity []decimal.Decimal
	binCount    []int
	// usage of each whole subtree, derived from the stored usage
	usage []decimal.Decimal

	// net stored-usage deltas and bin claims since the hierarchy was built
	deltas map[int]decimal.Decimal
	claims map[int]uuid.UUID
}

// UsageChange is the net usage delta of one stored node. ProductID is set
// when a bin reservation claims the bin for a product.
type UsageChange struct {
	LocationID uuid.UUID
	Level      Level
	Delta      decimal.Decimal
	ProductID  *uuid.UUID
}

// Rollup summarizes a subtree
type Rollup struct {
	LocationID  uuid.UUID       `json:"location_id"`
	Key         string          `json:"key"`
	Capacity    decimal.Decimal `json:"capacity"`
	Usage       decimal.Decimal `json:"usage"`
	BinCapacity decimal.Decimal `json:"bin_capacity"`
	Bins        int             `json:"bins"`
}

// Utilization returns usage over bin capacity, zero when no bin is bounded
func (r Rollup) Utilization() decimal.Decimal {
	if !r.BinCapacity.IsPositive() {
		return decimal.Zero
	}
	return r.Usage.Div(r.BinCapacity)
}

// NewHierarchy creates an empty hierarchy
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		byID:   make(map[uuid.UUID]int),
		byKey:  make(map[string]int),
		deltas: make(map[int]decimal.Decimal),
		claims: make(map[int]uuid.UUID),
	}
}

// BuildHierarchy builds a hierarchy from locations in any order.
// Every referenced parent must be part of the input.
func BuildHierarchy(locations []*Location) (*Hierarchy, error) {
	sorted := make([]*Location, len(locations))
	copy(sorted, locations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Level.Depth() < sorted[j].Level.Depth()
	})

	h := NewHierarchy()
	for _, loc := range sorted {
		if err := h.Add(loc); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Add inserts a node; its parent must already be present
func (h *Hierarchy) Add(loc *Location) error {
	if _, exists := h.byID[loc.ID]; exists {
		return shared.NewDomainError("ALREADY_EXISTS", fmt.Sprintf("Location %s already in hierarchy", loc.ID))
	}
	if _, exists := h.byKey[loc.Key]; exists {
		return shared.NewDomainError("ALREADY_EXISTS", fmt.Sprintf("Location key %s already in hierarchy", loc.Key))
	}
	if !loc.Level.IsValid() {
		return shared.NewDomainError("INVALID_LOCATION", fmt.Sprintf("Unknown level %q", loc.Level))
	}

	parentIdx := noParent
	if loc.ParentID != nil {
		idx, ok := h.byID[*loc.ParentID]
		if !ok {
			return shared.NewDomainError("INVALID_LOCATION",
				fmt.Sprintf("Parent %s of %s is not in hierarchy", loc.ParentID.String(), loc.Key))
		}
		if h.nodes[idx].Level.Depth()+1 != loc.Level.Depth() {
			return shared.NewDomainError("INVALID_LOCATION",
				fmt.Sprintf("%s %s cannot sit under %s %s", loc.Level, loc.Key, h.nodes[idx].Level, h.nodes[idx].Key))
		}
		parentIdx = idx
	} else if loc.Level != LevelZone {
		return shared.NewDomainError("INVALID_LOCATION", fmt.Sprintf("Only zones can be roots, got %s %s", loc.Level, loc.Key))
	}

	idx := len(h.nodes)
	h.nodes = append(h.nodes, loc)
	h.parent = append(h.parent, parentIdx)
	h.children = append(h.children, nil)
	h.binCapacity = append(h.binCapacity, decimal.Zero)
	h.binCount = append(h.binCount, 0)
	h.usage = append(h.usage, loc.CurrentUsage)
	h.byID[loc.ID] = idx
	h.byKey[loc.Key] = idx
	if parentIdx != noParent {
		h.children[parentIdx] = append(h.children[parentIdx], idx)
	}

	if loc.IsBin() {
		for i := idx; i != noParent; i = h.parent[i] {
			h.binCapacity[i] = h.binCapacity[i].Add(loc.Capacity)
			h.binCount[i]++
		}
	}
	// bounded nodes already store their subtree usage
	for p := parentIdx; p != noParent && !h.nodes[p].IsBounded(); p = h.parent[p] {
		h.usage[p] = h.usage[p].Add(loc.CurrentUsage)
	}
	return nil
}

// Len returns the number of nodes
func (h *Hierarchy) Len() int {
	return len(h.nodes)
}

// Get returns a node by ID
func (h *Hierarchy) Get(id uuid.UUID) (*Location, bool) {
	idx, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	return h.nodes[idx], true
}

// Resolve finds a node by its full key
func (h *Hierarchy) Resolve(key string) (*Location, error) {
	normalized, err := NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	idx, ok := h.byKey[normalized]
	if !ok {
		return nil, shared.NewDomainError("NOT_FOUND", fmt.Sprintf("Location %s not found", normalized))
	}
	return h.nodes[idx], nil
}

// Parent returns the parent of a node
func (h *Hierarchy) Parent(id uuid.UUID) (*Location, bool) {
	idx, ok := h.byID[id]
	if !ok || h.parent[idx] == noParent {
		return nil, false
	}
	return h.nodes[h.parent[idx]], true
}

// Children returns the direct children of a node
func (h *Hierarchy) Children(id uuid.UUID) []*Location {
	idx, ok := h.byID[id]
	if !ok {
		return nil
	}
	out := make([]*Location, 0, len(h.children[idx]))
	for _, c := range h.children[idx] {
		out = append(out, h.nodes[c])
	}
	return out
}

// Roots returns the zones
func (h *Hierarchy) Roots() []*Location {
	var out []*Location
	for i, p := range h.parent {
		if p == noParent {
			out = append(out, h.nodes[i])
		}
	}
	return out
}

// Ancestors returns the parents of a node, nearest first
func (h *Hierarchy) Ancestors(id uuid.UUID) []*Location {
	idx, ok := h.byID[id]
	if !ok {
		return nil
	}
	var out []*Location
	for p := h.parent[idx]; p != noParent; p = h.parent[p] {
		out = append(out, h.nodes[p])
	}
	return out
}

// Walk visits the subtree rooted at id depth-first, parents before children.
// Returning false from fn skips the node's children.
func (h *Hierarchy) Walk(id uuid.UUID, fn func(loc *Location, depth int) bool) {
	idx, ok := h.byID[id]
	if !ok {
		return
	}
	h.walk(idx, 0, fn)
}

func (h *Hierarchy) walk(idx, depth int, fn func(loc *Location, depth int) bool) {
	if !fn(h.nodes[idx], depth) {
		return
	}
	for _, c := range h.children[idx] {
		h.walk(c, depth+1, fn)
	}
}

// Rollup returns the capacity summary of a subtree in constant time
func (h *Hierarchy) Rollup(id uuid.UUID) (Rollup, error) {
	idx, ok := h.byID[id]
	if !ok {
		return Rollup{}, shared.NewDomainError("NOT_FOUND", fmt.Sprintf("Location %s not found", id))
	}
	loc := h.nodes[idx]
	return Rollup{
		LocationID:  loc.ID,
		Key:         loc.Key,
		Capacity:    loc.Capacity,
		Usage:       h.usage[idx],
		BinCapacity: h.binCapacity[idx],
		Bins:        h.binCount[idx],
	}, nil
}

// Reserve claims qty units at a node for productID. The node and every
// ancestor are checked before anything changes, so a rejection leaves the
// tree untouched. Stored usage moves only on the node itself and its bounded
// ancestors.
func (h *Hierarchy) Reserve(id, productID uuid.UUID, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return shared.NewDomainError("INVALID_QUANTITY", "Reserve quantity must be positive")
	}
	path, err := h.path(id)
	if err != nil {
		return err
	}
	for _, idx := range path {
		if err := h.nodes[idx].checkReserve(productID, qty); err != nil {
			return err
		}
	}
	for i, idx := range path {
		h.usage[idx] = h.usage[idx].Add(qty)
		loc := h.nodes[idx]
		if i > 0 && !loc.IsBounded() {
			continue
		}
		loc.applyReserve(productID, qty)
		h.deltas[idx] = h.deltas[idx].Add(qty)
		if loc.IsBin() {
			h.claims[idx] = productID
		}
	}
	target := h.nodes[path[0]]
	target.AddDomainEvent(NewCapacityChangedEvent(target, qty))
	return nil
}

// Release gives back qty units at a node and its ancestors
func (h *Hierarchy) Release(id uuid.UUID, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return shared.NewDomainError("INVALID_QUANTITY", "Release quantity must be positive")
	}
	path, err := h.path(id)
	if err != nil {
		return err
	}
	for i, idx := range path {
		if i > 0 && !h.nodes[idx].IsBounded() {
			continue
		}
		if err := h.nodes[idx].checkRelease(qty); err != nil {
			return err
		}
	}
	for i, idx := range path {
		h.usage[idx] = h.usage[idx].Sub(qty)
		loc := h.nodes[idx]
		if i > 0 && !loc.IsBounded() {
			continue
		}
		loc.applyRelease(qty)
		h.deltas[idx] = h.deltas[idx].Sub(qty)
		if loc.ProductID == nil {
			delete(h.claims, idx)
		}
	}
	target := h.nodes[path[0]]
	target.AddDomainEvent(NewCapacityChangedEvent(target, qty.Neg()))
	return nil
}

// UsageChanges returns the non-zero stored-usage deltas ordered by depth and
// ID, the order in which they must be written
func (h *Hierarchy) UsageChanges() []UsageChange {
	out := make([]UsageChange, 0, len(h.deltas))
	for idx, delta := range h.deltas {
		if delta.IsZero() {
			continue
		}
		loc := h.nodes[idx]
		ch := UsageChange{LocationID: loc.ID, Level: loc.Level, Delta: delta}
		if pid, ok := h.claims[idx]; ok && delta.IsPositive() {
			ch.ProductID = &pid
		}
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		if di, dj := out[i].Level.Depth(), out[j].Level.Depth(); di != dj {
			return di < dj
		}
		return out[i].LocationID.String() < out[j].LocationID.String()
	})
	return out
}

// path returns the node's index followed by its ancestors
func (h *Hierarchy) path(id uuid.UUID) ([]int, error) {
	idx, ok := h.byID[id]
	if !ok {
		return nil, shared.NewDomainError("NOT_FOUND", fmt.Sprintf("Location %s not found", id))
	}
	var out []int
	for i := idx; i != noParent; i = h.parent[i] {
		out = append(out, i)
	}
	return out, nil
}
