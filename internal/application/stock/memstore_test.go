package stock

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/stockledger/internal/domain/analytics"
	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/location"
	"github.com/erp/stockledger/internal/domain/pending"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const absent = -1

// memStore is an in-memory ledger store with the same locking rules as the
// SQL repositories: versioned writes succeed only against the version they
// read, usage deltas are checked against the committed row at commit, and a
// transaction commits atomically or not at all.
type memStore struct {
	mu        sync.Mutex
	locations map[uuid.UUID]location.Location
	balances  map[ledger.Key]ledger.Balance
	movements []ledger.Movement
	pending   map[uuid.UUID]pending.PendingMovement
	events    []shared.DomainEvent
	seq       atomic.Int64
	commits   atomic.Int64

	// beforeCommit runs after fn succeeded and before the commit is checked
	beforeCommit func()
}

func newMemStore() *memStore {
	return &memStore{
		locations: make(map[uuid.UUID]location.Location),
		balances:  make(map[ledger.Key]ledger.Balance),
		pending:   make(map[uuid.UUID]pending.PendingMovement),
	}
}

// Execute implements TransactionScope
func (s *memStore) Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error {
	tx := s.begin()
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// Read implements TransactionScope against a copy of the committed state
func (s *memStore) Read(ctx context.Context, fn func(repos TransactionalRepositories) error) error {
	snap := newMemStore()
	s.mu.Lock()
	maps.Copy(snap.locations, s.locations)
	maps.Copy(snap.balances, s.balances)
	maps.Copy(snap.pending, s.pending)
	snap.movements = slices.Clone(s.movements)
	s.mu.Unlock()
	snap.seq.Store(s.seq.Load())
	return fn(snap.autocommit())
}

func (s *memStore) begin() *memTx {
	return &memTx{
		store:     s,
		locations: make(map[uuid.UUID]location.Location),
		locBase:   make(map[uuid.UUID]int),
		balances:  make(map[ledger.Key]ledger.Balance),
		balBase:   make(map[ledger.Key]int),
		pending:   make(map[uuid.UUID]pending.PendingMovement),
		penBase:   make(map[uuid.UUID]int),
	}
}

// autocommit returns repositories whose writes commit immediately
func (s *memStore) autocommit() *memTx {
	tx := s.begin()
	tx.autocommit = true
	return tx
}

func (s *memStore) commit(tx *memTx) error {
	if s.beforeCommit != nil {
		s.beforeCommit()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, base := range tx.locBase {
		if !baseMatches(s.locations, id, base, func(l location.Location) int { return l.Version }) {
			return shared.ErrConcurrencyConflict
		}
	}
	for k, base := range tx.balBase {
		if !baseMatches(s.balances, k, base, func(b ledger.Balance) int { return b.Version }) {
			return shared.ErrConcurrencyConflict
		}
	}
	for id, base := range tx.penBase {
		if !baseMatches(s.pending, id, base, func(p pending.PendingMovement) int { return p.Version }) {
			return shared.ErrConcurrencyConflict
		}
	}
	for _, m := range tx.movements {
		for _, c := range s.movements {
			if c.IdempotencyID == m.IdempotencyID {
				return ledger.ErrDuplicateIdempotency
			}
		}
	}
	usage := make(map[uuid.UUID]location.Location)
	for _, ch := range tx.usage {
		l, ok := usage[ch.LocationID]
		if !ok {
			if l, ok = s.locations[ch.LocationID]; !ok {
				return shared.ErrConcurrencyConflict
			}
		}
		if !admitsUsage(l, ch) {
			return shared.ErrConcurrencyConflict
		}
		usage[ch.LocationID] = withUsage(l, ch)
	}

	for id, l := range tx.locations {
		// versioned saves never carry usage
		if cur, ok := s.locations[id]; ok {
			l.CurrentUsage, l.ProductID = cur.CurrentUsage, cur.ProductID
		}
		s.locations[id] = l
	}
	for id, u := range usage {
		l := s.locations[id]
		l.CurrentUsage, l.ProductID = u.CurrentUsage, u.ProductID
		s.locations[id] = l
	}
	for k, b := range tx.balances {
		s.balances[k] = b
	}
	for id, p := range tx.pending {
		s.pending[id] = p
	}
	s.movements = append(s.movements, tx.movements...)
	sort.Slice(s.movements, func(i, j int) bool {
		return s.movements[i].CommitSequence < s.movements[j].CommitSequence
	})
	s.events = append(s.events, tx.events...)
	s.commits.Add(1)
	return nil
}

func baseMatches[K comparable, V any](committed map[K]V, key K, base int, version func(V) int) bool {
	cur, ok := committed[key]
	if base == absent {
		return !ok
	}
	return ok && version(cur) == base
}

// stageWrite checks an optimistic write against the transaction's view and
// remembers the committed version the commit must still find
func stageWrite[K comparable, V any](committed, staged map[K]V, base map[K]int, key K, value V, isNew bool, version func(V) int) error {
	cur, ok := staged[key]
	if !ok {
		cur, ok = committed[key]
	}
	if isNew {
		if ok {
			return shared.ErrConcurrencyConflict
		}
	} else if !ok || version(cur) != version(value)-1 {
		return shared.ErrConcurrencyConflict
	}
	if _, tracked := base[key]; !tracked {
		if c, exists := committed[key]; exists {
			base[key] = version(c)
		} else {
			base[key] = absent
		}
	}
	staged[key] = value
	return nil
}

// admitsUsage mirrors the guards of the SQL usage update
func admitsUsage(l location.Location, ch location.UsageChange) bool {
	next := l.CurrentUsage.Add(ch.Delta)
	if !ch.Delta.IsPositive() {
		return !next.IsNegative()
	}
	if l.IsReserved || (l.IsBounded() && next.GreaterThan(l.Capacity)) {
		return false
	}
	if ch.ProductID != nil && l.ProductID != nil && *l.ProductID != *ch.ProductID && l.CurrentUsage.IsPositive() {
		return false
	}
	return true
}

func withUsage(l location.Location, ch location.UsageChange) location.Location {
	l.CurrentUsage = l.CurrentUsage.Add(ch.Delta)
	if ch.ProductID != nil {
		pid := *ch.ProductID
		l.ProductID = &pid
	}
	if l.IsBin() && l.CurrentUsage.IsZero() {
		l.ProductID = nil
	}
	return l
}

func (s *memStore) seedLocation(t *testing.T, loc *location.Location) {
	t.Helper()
	loc.MarkPersisted()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[loc.ID] = *loc
}

func (s *memStore) location(id uuid.UUID) location.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locations[id]
}

func (s *memStore) balance(productID, locationID uuid.UUID) (ledger.Balance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[ledger.Key{ProductID: productID, LocationID: locationID}]
	return b, ok
}

// corrupt overwrites a stored quantity without a movement
func (s *memStore) corrupt(productID, locationID uuid.UUID, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ledger.Key{ProductID: productID, LocationID: locationID}
	b := s.balances[k]
	b.Quantity = qty
	b.Version++
	s.balances[k] = b
}

func (s *memStore) committedMovements() []ledger.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Movement(nil), s.movements...)
}

func (s *memStore) committedEvents(eventType string) []shared.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []shared.DomainEvent
	for _, e := range s.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// memTx is one transaction over memStore
type memTx struct {
	store      *memStore
	autocommit bool

	locations map[uuid.UUID]location.Location
	locBase   map[uuid.UUID]int
	balances  map[ledger.Key]ledger.Balance
	balBase   map[ledger.Key]int
	pending   map[uuid.UUID]pending.PendingMovement
	penBase   map[uuid.UUID]int
	usage     []location.UsageChange
	movements []ledger.Movement
	events    []shared.DomainEvent
}

func (tx *memTx) Locations() location.LocationRepository     { return memLocations{tx} }
func (tx *memTx) Balances() ledger.BalanceRepository         { return memBalances{tx} }
func (tx *memTx) Movements() ledger.MovementRepository       { return memMovements{tx} }
func (tx *memTx) Pending() pending.PendingMovementRepository { return memPending{tx} }
func (tx *memTx) Events() shared.EventRecorder               { return memRecorder{tx} }

func (tx *memTx) written() error {
	if !tx.autocommit {
		return nil
	}
	fresh := tx.store.begin()
	fresh.autocommit = true
	committed := *tx
	*tx = *fresh
	return tx.store.commit(&committed)
}

type memLocations struct{ tx *memTx }

func (r memLocations) all() map[uuid.UUID]location.Location {
	r.tx.store.mu.Lock()
	defer r.tx.store.mu.Unlock()
	out := make(map[uuid.UUID]location.Location, len(r.tx.store.locations))
	for id, l := range r.tx.store.locations {
		out[id] = l
	}
	for id, l := range r.tx.locations {
		out[id] = l
	}
	return out
}

func loadedLocation(l location.Location) *location.Location {
	l.MarkPersisted()
	l.ClearDomainEvents()
	return &l
}

func (r memLocations) FindByID(_ context.Context, id uuid.UUID) (*location.Location, error) {
	l, ok := r.all()[id]
	if !ok {
		return nil, location.ErrLocationNotFound
	}
	return loadedLocation(l), nil
}

func (r memLocations) FindByKey(_ context.Context, warehouseID uuid.UUID, key string) (*location.Location, error) {
	for _, l := range r.all() {
		if l.WarehouseID == warehouseID && l.Key == key {
			return loadedLocation(l), nil
		}
	}
	return nil, location.ErrLocationNotFound
}

func (r memLocations) FindByWarehouse(_ context.Context, warehouseID uuid.UUID) ([]*location.Location, error) {
	var out []*location.Location
	for _, l := range r.all() {
		if l.WarehouseID == warehouseID {
			out = append(out, loadedLocation(l))
		}
	}
	return out, nil
}

func (r memLocations) FindPath(_ context.Context, id uuid.UUID) ([]*location.Location, error) {
	all := r.all()
	var path []*location.Location
	for next := &id; next != nil; {
		l, ok := all[*next]
		if !ok {
			return nil, location.ErrLocationNotFound
		}
		path = append(path, loadedLocation(l))
		next = l.ParentID
	}
	return path, nil
}

func (r memLocations) SaveWithLock(_ context.Context, loc *location.Location) error {
	if !loc.IsModified() {
		return nil
	}
	isNew := loc.IsNew()
	loc.MarkPersisted()
	value := *loc
	value.ClearDomainEvents()

	r.tx.store.mu.Lock()
	err := stageWrite(r.tx.store.locations, r.tx.locations, r.tx.locBase, loc.ID, value, isNew,
		func(l location.Location) int { return l.Version })
	r.tx.store.mu.Unlock()
	if err != nil {
		return err
	}
	return r.tx.written()
}

func (r memLocations) ApplyUsage(_ context.Context, ch location.UsageChange) error {
	if ch.Delta.IsZero() {
		return nil
	}
	r.tx.store.mu.Lock()
	r.tx.usage = append(r.tx.usage, ch)
	r.tx.store.mu.Unlock()
	return r.tx.written()
}

type memBalances struct{ tx *memTx }

func (r memBalances) all() map[ledger.Key]ledger.Balance {
	r.tx.store.mu.Lock()
	defer r.tx.store.mu.Unlock()
	out := make(map[ledger.Key]ledger.Balance, len(r.tx.store.balances))
	for k, b := range r.tx.store.balances {
		out[k] = b
	}
	for k, b := range r.tx.balances {
		out[k] = b
	}
	return out
}

func loadedBalance(b ledger.Balance) *ledger.Balance {
	b.MarkPersisted()
	b.ClearDomainEvents()
	return &b
}

func (r memBalances) Find(_ context.Context, productID, locationID uuid.UUID) (*ledger.Balance, error) {
	b, ok := r.all()[ledger.Key{ProductID: productID, LocationID: locationID}]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return loadedBalance(b), nil
}

func (r memBalances) FindByProduct(_ context.Context, productID uuid.UUID) ([]*ledger.Balance, error) {
	var out []*ledger.Balance
	for k, b := range r.all() {
		if k.ProductID == productID {
			out = append(out, loadedBalance(b))
		}
	}
	return out, nil
}

func (r memBalances) FindByLocation(_ context.Context, locationID uuid.UUID) ([]*ledger.Balance, error) {
	var out []*ledger.Balance
	for k, b := range r.all() {
		if k.LocationID == locationID {
			out = append(out, loadedBalance(b))
		}
	}
	return out, nil
}

func (r memBalances) SumByProduct(_ context.Context, productID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for k, b := range r.all() {
		if k.ProductID == productID {
			total = total.Add(b.Quantity)
		}
	}
	return total, nil
}

func (r memBalances) ListProductIDs(_ context.Context) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for k := range r.all() {
		if !seen[k.ProductID] {
			seen[k.ProductID] = true
			out = append(out, k.ProductID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (r memBalances) SaveWithLock(_ context.Context, b *ledger.Balance) error {
	if !b.IsModified() {
		return nil
	}
	isNew := b.IsNew()
	b.MarkPersisted()
	value := *b
	value.ClearDomainEvents()

	r.tx.store.mu.Lock()
	err := stageWrite(r.tx.store.balances, r.tx.balances, r.tx.balBase, b.Key(), value, isNew,
		func(b ledger.Balance) int { return b.Version })
	r.tx.store.mu.Unlock()
	if err != nil {
		return err
	}
	return r.tx.written()
}

type memMovements struct{ tx *memTx }

func (r memMovements) all() []ledger.Movement {
	r.tx.store.mu.Lock()
	defer r.tx.store.mu.Unlock()
	out := append([]ledger.Movement(nil), r.tx.store.movements...)
	out = append(out, r.tx.movements...)
	sort.Slice(out, func(i, j int) bool { return out[i].CommitSequence < out[j].CommitSequence })
	return out
}

func (r memMovements) Append(_ context.Context, m *ledger.Movement) error {
	for _, c := range r.all() {
		if c.IdempotencyID == m.IdempotencyID {
			return ledger.ErrDuplicateIdempotency
		}
	}
	m.CommitSequence = r.tx.store.seq.Add(1)
	r.tx.store.mu.Lock()
	r.tx.movements = append(r.tx.movements, *m)
	r.tx.store.mu.Unlock()
	return r.tx.written()
}

func (r memMovements) FindByID(_ context.Context, id uuid.UUID) (*ledger.Movement, error) {
	for _, m := range r.all() {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r memMovements) FindByIdempotencyID(_ context.Context, idempotencyID string) (*ledger.Movement, error) {
	for _, m := range r.all() {
		if m.IdempotencyID == idempotencyID {
			return &m, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r memMovements) matching(filter ledger.MovementFilter) []*ledger.Movement {
	var out []*ledger.Movement
	for _, m := range r.all() {
		if filter.Matches(&m) {
			out = append(out, &m)
		}
	}
	return out
}

func (r memMovements) Find(_ context.Context, filter ledger.MovementFilter, limit int) ([]*ledger.Movement, error) {
	out := r.matching(filter)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memMovements) FindPage(_ context.Context, filter ledger.MovementFilter, page shared.Page) ([]*ledger.Movement, int64, error) {
	out := r.matching(filter)
	total := int64(len(out))
	start := min(page.Offset(), len(out))
	end := min(start+page.PageSize, len(out))
	return out[start:end], total, nil
}

type memPending struct{ tx *memTx }

func (r memPending) all() map[uuid.UUID]pending.PendingMovement {
	r.tx.store.mu.Lock()
	defer r.tx.store.mu.Unlock()
	out := make(map[uuid.UUID]pending.PendingMovement, len(r.tx.store.pending))
	for id, p := range r.tx.store.pending {
		out[id] = p
	}
	for id, p := range r.tx.pending {
		out[id] = p
	}
	return out
}

func loadedPending(p pending.PendingMovement) *pending.PendingMovement {
	p.MarkPersisted()
	p.ClearDomainEvents()
	return &p
}

func (r memPending) FindByID(_ context.Context, id uuid.UUID) (*pending.PendingMovement, error) {
	p, ok := r.all()[id]
	if !ok {
		return nil, pending.ErrPendingNotFound
	}
	return loadedPending(p), nil
}

func (r memPending) open() []*pending.PendingMovement {
	var out []*pending.PendingMovement
	for _, p := range r.all() {
		if p.Status.IsOpen() {
			out = append(out, loadedPending(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r memPending) FindOpen(_ context.Context, page shared.Page) ([]*pending.PendingMovement, int64, error) {
	out := r.open()
	total := int64(len(out))
	start := min(page.Offset(), len(out))
	end := min(start+page.PageSize, len(out))
	return out[start:end], total, nil
}

func (r memPending) FindOpenCreatedBefore(_ context.Context, before time.Time, limit int) ([]*pending.PendingMovement, error) {
	var out []*pending.PendingMovement
	for _, p := range r.open() {
		if p.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r memPending) SaveWithLock(_ context.Context, p *pending.PendingMovement) error {
	if !p.IsModified() {
		return nil
	}
	isNew := p.IsNew()
	p.MarkPersisted()
	value := *p
	value.ClearDomainEvents()

	r.tx.store.mu.Lock()
	err := stageWrite(r.tx.store.pending, r.tx.pending, r.tx.penBase, p.ID, value, isNew,
		func(p pending.PendingMovement) int { return p.Version })
	r.tx.store.mu.Unlock()
	if err != nil {
		return err
	}
	return r.tx.written()
}

type memRecorder struct{ tx *memTx }

func (r memRecorder) Record(_ context.Context, events ...shared.DomainEvent) error {
	r.tx.events = append(r.tx.events, events...)
	return nil
}

type memPolicies struct {
	mu       sync.Mutex
	policies map[uuid.UUID]analytics.StockPolicy
}

func newMemPolicies(policies ...analytics.StockPolicy) *memPolicies {
	p := &memPolicies{policies: make(map[uuid.UUID]analytics.StockPolicy)}
	for _, policy := range policies {
		p.policies[policy.ProductID] = policy
	}
	return p
}

func (r *memPolicies) FindByProduct(_ context.Context, productID uuid.UUID) (*analytics.StockPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[productID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &p, nil
}

func (r *memPolicies) FindAll(_ context.Context) ([]*analytics.StockPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*analytics.StockPolicy
	for _, p := range r.policies {
		out = append(out, &p)
	}
	return out, nil
}

func (r *memPolicies) Save(_ context.Context, policy *analytics.StockPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[policy.ProductID] = *policy
	return nil
}

// memLocker serializes callers per key
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

func (l *memLocker) Close() error { return nil }

// fixture is a warehouse A > 01 > R1 > S1 > {B1, B2} with 100-unit bins,
// plus an unbounded receiving zone RCV
type fixture struct {
	t           *testing.T
	ctx         context.Context
	store       *memStore
	policies    *memPolicies
	processor   *MovementProcessor
	ledger      *LedgerService
	locations   *LocationService
	reconciler  *Reconciler
	analytics   *AnalyticsService
	integrity   *IntegrityService
	warehouseID uuid.UUID
	shelf       *location.Location
	binX        *location.Location
	binY        *location.Location
	dock        *location.Location
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := newMemStore()
	repos := store.autocommit()
	f := &fixture{
		t:           t,
		ctx:         context.Background(),
		store:       store,
		policies:    newMemPolicies(),
		warehouseID: uuid.New(),
	}

	newLoc := func(parent *location.Location, code string, capacity int64) *location.Location {
		loc, err := location.NewLocation(f.warehouseID, parent, code, location.LocationTypeStorage, decimal.NewFromInt(capacity))
		require.NoError(t, err)
		store.seedLocation(t, loc)
		return loc
	}
	zone := newLoc(nil, "A", 0)
	aisle := newLoc(zone, "01", 0)
	rack := newLoc(aisle, "R1", 0)
	f.shelf = newLoc(rack, "S1", 0)
	f.binX = newLoc(f.shelf, "B1", 100)
	f.binY = newLoc(f.shelf, "B2", 100)
	f.dock = newLoc(nil, "RCV", 0)

	f.processor = NewMovementProcessor(store, repos.Movements(), DefaultMaxAttempts, logger)
	f.ledger = NewLedgerService(store, repos.Balances(), repos.Movements(), DefaultMaxAttempts, logger)
	f.locations = NewLocationService(store, repos.Locations(), logger)
	f.reconciler = NewReconciler(store, repos.Pending(), f.processor, newMemLocker(), ReconcilerConfig{
		OverageTolerancePct: decimal.NewFromInt(10),
		MaxAge:              time.Hour,
	}, logger)
	f.analytics = NewAnalyticsService(f.ledger, repos.Balances(), f.policies, AnalyticsConfig{WindowDays: 30}, logger)
	f.integrity = NewIntegrityService(store, repos.Balances(), repos.Movements(), DefaultMaxAttempts, logger)
	return f
}

func (f *fixture) submit(intent ledger.Intent) *ledger.Movement {
	f.t.Helper()
	m, err := f.processor.SubmitIntent(f.ctx, intent)
	require.NoError(f.t, err)
	return m
}

func (f *fixture) receive(productID uuid.UUID, loc *location.Location, qty int64) *ledger.Movement {
	f.t.Helper()
	to := loc.ID
	return f.submit(ledger.Intent{
		IdempotencyID: uuid.NewString(),
		ProductID:     productID,
		Type:          ledger.MovementTypeReceive,
		Quantity:      decimal.NewFromInt(qty),
		ToLocationID:  &to,
	})
}

func (f *fixture) quantity(productID uuid.UUID, loc *location.Location) decimal.Decimal {
	f.t.Helper()
	b, err := f.ledger.GetBalance(f.ctx, productID, loc.ID)
	require.NoError(f.t, err)
	return b.Quantity
}

// usage returns the subtree usage of loc as the hierarchy derives it
func (f *fixture) usage(loc *location.Location) decimal.Decimal {
	f.t.Helper()
	r, err := f.locations.Rollup(f.ctx, loc.ID)
	require.NoError(f.t, err)
	return r.Usage
}

// requireFoldMatches checks every stored balance against the replay of the movement log
func (f *fixture) requireFoldMatches() {
	f.t.Helper()
	var movements []*ledger.Movement
	for _, m := range f.store.committedMovements() {
		movements = append(movements, &m)
	}
	var balances []*ledger.Balance
	f.store.mu.Lock()
	for _, b := range f.store.balances {
		balances = append(balances, loadedBalance(b))
	}
	f.store.mu.Unlock()
	require.Empty(f.t, ledger.Reconcile(balances, ledger.Fold(movements)))
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
