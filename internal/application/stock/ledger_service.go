package stock

import (
	"context"
	"errors"
	"iter"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultStreamBatch is the page size of movement streams
const DefaultStreamBatch = 200

// LedgerService answers balance and movement history queries and manages
// pick reservations on balances
type LedgerService struct {
	scope       TransactionScope
	balances    ledger.BalanceRepository
	movements   ledger.MovementRepository
	maxAttempts int
	logger      *zap.Logger
}

// NewLedgerService creates a LedgerService
func NewLedgerService(
	scope TransactionScope,
	balances ledger.BalanceRepository,
	movements ledger.MovementRepository,
	maxAttempts int,
	logger *zap.Logger,
) *LedgerService {
	return &LedgerService{
		scope:       scope,
		balances:    balances,
		movements:   movements,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// GetBalance returns the balance of a product at a location. A key that was
// never written is reported as a zero balance at version 0.
func (s *LedgerService) GetBalance(ctx context.Context, productID, locationID uuid.UUID) (*ledger.Balance, error) {
	b, err := s.balances.Find(ctx, productID, locationID)
	if errors.Is(err, shared.ErrNotFound) {
		return ledger.NewBalance(productID, locationID), nil
	}
	return b, err
}

// GetProductBalance returns the total quantity of a product across all locations
func (s *LedgerService) GetProductBalance(ctx context.Context, productID uuid.UUID) (decimal.Decimal, error) {
	return s.balances.SumByProduct(ctx, productID)
}

// ListBalances returns every balance of a product
func (s *LedgerService) ListBalances(ctx context.Context, productID uuid.UUID) ([]*ledger.Balance, error) {
	return s.balances.FindByProduct(ctx, productID)
}

// ListMovements returns one page of movement history, oldest first
func (s *LedgerService) ListMovements(ctx context.Context, filter ledger.MovementFilter, page shared.Page) (shared.Paginated[*ledger.Movement], error) {
	page = page.Normalize()
	items, total, err := s.movements.FindPage(ctx, filter, page)
	if err != nil {
		return shared.Paginated[*ledger.Movement]{}, err
	}
	return shared.NewPaginated(items, total, page), nil
}

// Movements streams the movements matching filter in commit order. The
// sequence is lazy, ends at the last movement committed when it reaches it,
// and can be ranged over again from the start.
func (s *LedgerService) Movements(ctx context.Context, filter ledger.MovementFilter) iter.Seq2[*ledger.Movement, error] {
	return streamMovements(ctx, s.movements, filter, DefaultStreamBatch)
}

func streamMovements(ctx context.Context, repo ledger.MovementRepository, filter ledger.MovementFilter, batch int) iter.Seq2[*ledger.Movement, error] {
	return func(yield func(*ledger.Movement, error) bool) {
		f := filter
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			page, err := repo.Find(ctx, f, batch)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, m := range page {
				if !yield(m, nil) {
					return
				}
			}
			if len(page) < batch {
				return
			}
			f.AfterSequence = page[len(page)-1].CommitSequence
		}
	}
}

// FoldKey replays the history of one balance key
func FoldKey(ctx context.Context, repo ledger.MovementRepository, key ledger.Key) (decimal.Decimal, error) {
	folded := make(map[ledger.Key]decimal.Decimal)
	filter := ledger.MovementFilter{ProductID: &key.ProductID, LocationID: &key.LocationID}
	for m, err := range streamMovements(ctx, repo, filter, DefaultStreamBatch) {
		if err != nil {
			return decimal.Zero, err
		}
		ledger.FoldInto(folded, []*ledger.Movement{m})
	}
	return folded[key], nil
}

// ReserveStock soft-allocates qty of a balance to a pick workflow
func (s *LedgerService) ReserveStock(ctx context.Context, productID, locationID uuid.UUID, qty decimal.Decimal) (*ledger.Balance, error) {
	var out *ledger.Balance
	err := retryOnConflict(ctx, s.maxAttempts, func() error {
		return s.scope.Execute(ctx, func(tx TransactionalRepositories) error {
			b, err := reserveInTx(ctx, tx, productID, locationID, qty)
			out = b
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseReservedStock returns up to qty reserved units to available stock
func (s *LedgerService) ReleaseReservedStock(ctx context.Context, productID, locationID uuid.UUID, qty decimal.Decimal) (*ledger.Balance, error) {
	var out *ledger.Balance
	err := retryOnConflict(ctx, s.maxAttempts, func() error {
		return s.scope.Execute(ctx, func(tx TransactionalRepositories) error {
			b, err := releaseInTx(ctx, tx, productID, locationID, qty)
			out = b
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func reserveInTx(ctx context.Context, tx TransactionalRepositories, productID, locationID uuid.UUID, qty decimal.Decimal) (*ledger.Balance, error) {
	b, err := tx.Balances().Find(ctx, productID, locationID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, ledger.ErrInsufficientStock
	}
	if err != nil {
		return nil, err
	}
	if err := b.Reserve(qty); err != nil {
		return nil, err
	}
	return b, tx.Balances().SaveWithLock(ctx, b)
}

func releaseInTx(ctx context.Context, tx TransactionalRepositories, productID, locationID uuid.UUID, qty decimal.Decimal) (*ledger.Balance, error) {
	b, err := tx.Balances().Find(ctx, productID, locationID)
	if err != nil {
		return nil, err
	}
	if _, err := b.ReleaseReservation(qty); err != nil {
		return nil, err
	}
	return b, tx.Balances().SaveWithLock(ctx, b)
}
