package stock

import (
	"context"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/location"
	"github.com/erp/stockledger/internal/domain/pending"
	"github.com/erp/stockledger/internal/domain/shared"
)

// TransactionScope provides transactional access to the stock repositories.
// All repository operations inside Execute share one database transaction and
// are committed or rolled back together.
type TransactionScope interface {
	// Execute runs fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
	// Read runs fn against one consistent snapshot of committed state.
	// Commits made while fn runs are invisible to it. fn must not write.
	Read(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories gives access to the repositories of one transaction.
//
// Events records domain events into the outbox of the same transaction, so an
// event is delivered if and only if the change that raised it was committed.
type TransactionalRepositories interface {
	Locations() location.LocationRepository
	Balances() ledger.BalanceRepository
	Movements() ledger.MovementRepository
	Pending() pending.PendingMovementRepository
	Events() shared.EventRecorder
}
