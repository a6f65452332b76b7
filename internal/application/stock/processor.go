package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/location"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"github.com/erp/stockledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds optimistic retries of one submission
const DefaultMaxAttempts = 3

// CommitHook runs inside the movement's transaction after the movement is
// appended. An error rolls the whole movement back.
type CommitHook func(ctx context.Context, tx TransactionalRepositories, m *ledger.Movement) error

// MovementProcessor validates movement intents and applies each one
// atomically against the ledger and the location hierarchy
type MovementProcessor struct {
	scope       TransactionScope
	movements   ledger.MovementRepository
	dispatcher  *ledger.Dispatcher
	maxAttempts int
	logger      *zap.Logger
	metrics     *telemetry.StockMetrics
}

// NewMovementProcessor creates a MovementProcessor. movements is used outside
// transactions to answer idempotent replays.
func NewMovementProcessor(scope TransactionScope, movements ledger.MovementRepository, maxAttempts int, logger *zap.Logger) *MovementProcessor {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &MovementProcessor{
		scope:       scope,
		movements:   movements,
		dispatcher:  ledger.DefaultDispatcher(),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// SetStockMetrics sets the metrics recorder
func (p *MovementProcessor) SetStockMetrics(m *telemetry.StockMetrics) {
	p.metrics = m
}

// Submit validates a movement command and commits it
func (p *MovementProcessor) Submit(ctx context.Context, cmd SubmitMovementCommand) (*ledger.Movement, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return p.SubmitIntent(ctx, cmd.ToIntent())
}

// SubmitIntent commits an intent
func (p *MovementProcessor) SubmitIntent(ctx context.Context, intent ledger.Intent) (*ledger.Movement, error) {
	return p.SubmitWith(ctx, intent, nil)
}

// SubmitWith commits an intent and runs hook in the same transaction.
//
// A previously committed idempotency id returns the original movement without
// running hook. Version conflicts recompute the plan against fresh balances up
// to the configured number of attempts before ErrConcurrencyConflict is returned.
func (p *MovementProcessor) SubmitWith(ctx context.Context, intent ledger.Intent, hook CommitHook) (*ledger.Movement, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "MovementProcessor", "Submit",
		telemetry.WithAttribute(telemetry.SpanAttrMovementType, string(intent.Type)),
		telemetry.WithAttribute(telemetry.SpanAttrIdempotencyID, intent.IdempotencyID),
	)
	defer span.End()
	if logger.GetCorrelationID(ctx) == "" {
		ctx = logger.WithCorrelationID(ctx, intent.IdempotencyID)
	}

	m, err := p.submit(ctx, intent, hook)
	if err != nil {
		telemetry.RecordError(span, err)
		p.metrics.RecordMovementRejected(ctx, string(intent.Type), shared.CodeOf(err))
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrCommitSequence, m.CommitSequence)
	telemetry.SetOK(span)
	return m, nil
}

func (p *MovementProcessor) submit(ctx context.Context, intent ledger.Intent, hook CommitHook) (*ledger.Movement, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if existing, err := p.findCommitted(ctx, intent.IdempotencyID); err != nil || existing != nil {
		if existing != nil {
			p.metrics.RecordIdempotentReplay(ctx, string(intent.Type))
		}
		return existing, err
	}

	log := logger.L(ctx, p.logger)
	start := time.Now()
	for attempt := 1; ; attempt++ {
		m, err := p.attempt(ctx, intent, hook)
		switch {
		case err == nil:
			p.metrics.RecordMovementCommitted(ctx, string(m.Type), attempt, time.Since(start))
			log.Debug("movement committed",
				zap.String("movement_id", m.ID.String()),
				zap.String("type", string(m.Type)),
				zap.String("delta", m.QuantityDelta.String()),
				zap.Int64("commit_sequence", m.CommitSequence),
				zap.Int("attempts", attempt),
			)
			return m, nil

		case errors.Is(err, ledger.ErrDuplicateIdempotency):
			// a concurrent submission with the same id won the race
			existing, findErr := p.findCommitted(ctx, intent.IdempotencyID)
			if findErr != nil {
				return nil, findErr
			}
			if existing == nil {
				return nil, err
			}
			p.metrics.RecordIdempotentReplay(ctx, string(intent.Type))
			return existing, nil

		case errors.Is(err, shared.ErrConcurrencyConflict):
			p.metrics.RecordConflictRetry(ctx, string(intent.Type))
			if attempt >= p.maxAttempts {
				log.Warn("movement conflict retries exhausted",
					zap.Int("attempts", attempt),
				)
				return nil, shared.WrapDomainError("CONCURRENT_MODIFICATION",
					fmt.Sprintf("Movement %s conflicted %d times", intent.IdempotencyID, attempt), err)
			}
			log.Debug("movement conflicted, retrying",
				zap.Int("attempt", attempt),
			)
			if err := ctx.Err(); err != nil {
				return nil, err
			}

		default:
			return nil, err
		}
	}
}

// attempt plans and commits the intent in one transaction
func (p *MovementProcessor) attempt(ctx context.Context, intent ledger.Intent, hook CommitHook) (*ledger.Movement, error) {
	var committed *ledger.Movement
	err := p.scope.Execute(ctx, func(tx TransactionalRepositories) error {
		view := newBalanceView(ctx, tx.Balances())
		plan, err := p.dispatcher.Plan(intent, view)
		if err != nil {
			return err
		}

		events, err := p.applyCapacity(ctx, tx, plan)
		if err != nil {
			return err
		}

		if err := plan.ApplyChanges(); err != nil {
			return err
		}
		for _, ch := range plan.Changes {
			if err := tx.Balances().SaveWithLock(ctx, ch.Balance); err != nil {
				return err
			}
		}

		if err := tx.Movements().Append(ctx, plan.Movement); err != nil {
			return err
		}
		events = append(events, ledger.NewMovementCommittedEvent(plan.Movement))

		if hook != nil {
			if err := hook(ctx, tx, plan.Movement); err != nil {
				return err
			}
		}
		if err := tx.Events().Record(ctx, events...); err != nil {
			return err
		}
		committed = plan.Movement
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// applyCapacity loads the touched locations with their ancestors, checks the
// plan's reservations and releases against them and writes the resulting
// usage deltas. Every location the movement names must exist, even when no
// capacity changes.
func (p *MovementProcessor) applyCapacity(ctx context.Context, tx TransactionalRepositories, plan *ledger.Plan) ([]shared.DomainEvent, error) {
	var ids []uuid.UUID
	for _, e := range plan.Movement.Effects() {
		ids = append(ids, e.LocationID)
	}
	h, err := loadHierarchy(ctx, tx.Locations(), ids...)
	if err != nil {
		return nil, err
	}

	var touched []uuid.UUID
	for _, op := range plan.Capacity {
		if op.Release {
			err = h.Release(op.LocationID, op.Quantity)
		} else {
			err = h.Reserve(op.LocationID, plan.Movement.ProductID, op.Quantity)
		}
		if err != nil {
			return nil, err
		}
		touched = append(touched, op.LocationID)
	}

	for _, ch := range h.UsageChanges() {
		if err := tx.Locations().ApplyUsage(ctx, ch); err != nil {
			return nil, err
		}
	}

	var events []shared.DomainEvent
	for _, id := range touched {
		loc, _ := h.Get(id)
		events = append(events, loc.GetDomainEvents()...)
		loc.ClearDomainEvents()
	}
	return events, nil
}

func (p *MovementProcessor) findCommitted(ctx context.Context, idempotencyID string) (*ledger.Movement, error) {
	m, err := p.movements.FindByIdempotencyID(ctx, idempotencyID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// loadHierarchy builds the partial hierarchy of the given locations and their ancestors
func loadHierarchy(ctx context.Context, repo location.LocationRepository, ids ...uuid.UUID) (*location.Hierarchy, error) {
	seen := make(map[uuid.UUID]bool)
	var nodes []*location.Location
	for _, id := range ids {
		if seen[id] {
			continue
		}
		path, err := repo.FindPath(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, loc := range path {
			if !seen[loc.ID] {
				seen[loc.ID] = true
				nodes = append(nodes, loc)
			}
		}
	}
	return location.BuildHierarchy(nodes)
}

// balanceView reads balances inside a transaction, caching them so one plan
// sees a single instance per key
type balanceView struct {
	ctx   context.Context
	repo  ledger.BalanceRepository
	cache map[ledger.Key]*ledger.Balance
}

func newBalanceView(ctx context.Context, repo ledger.BalanceRepository) *balanceView {
	return &balanceView{ctx: ctx, repo: repo, cache: make(map[ledger.Key]*ledger.Balance)}
}

// Balance implements ledger.LedgerView
func (v *balanceView) Balance(productID, locationID uuid.UUID) (*ledger.Balance, error) {
	k := ledger.Key{ProductID: productID, LocationID: locationID}
	if b, ok := v.cache[k]; ok {
		return b, nil
	}
	b, err := v.repo.Find(v.ctx, productID, locationID)
	if errors.Is(err, shared.ErrNotFound) {
		b, err = ledger.NewBalance(productID, locationID), nil
	}
	if err != nil {
		return nil, err
	}
	v.cache[k] = b
	return b, nil
}

// retryOnConflict runs fn until it succeeds, fails with a non-conflict error
// or attempts are exhausted
func retryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !errors.Is(err, shared.ErrConcurrencyConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}
