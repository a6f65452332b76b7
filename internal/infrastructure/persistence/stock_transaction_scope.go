package persistence

import (
	"context"
	"database/sql"

	"github.com/erp/stockledger/internal/application/stock"
	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/location"
	"github.com/erp/stockledger/internal/domain/pending"
	"github.com/erp/stockledger/internal/domain/shared"
	"gorm.io/gorm"
)

// EventRecorderFactory returns an event recorder bound to a transaction
type EventRecorderFactory func(tx *gorm.DB) shared.EventRecorder

// GormTransactionScope implements TransactionScope using GORM transactions.
// It provides atomic execution of multiple repository operations.
type GormTransactionScope struct {
	db       *gorm.DB
	recorder EventRecorderFactory
}

// NewGormTransactionScope creates a new GormTransactionScope. recorder binds
// the outbox to each transaction so events commit with the changes that raised them.
func NewGormTransactionScope(db *gorm.DB, recorder EventRecorderFactory) *GormTransactionScope {
	return &GormTransactionScope{db: db, recorder: recorder}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos stock.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx, recorder: s.recorder})
	})
}

// Read runs fn in a read-only REPEATABLE READ transaction on Postgres, so every
// query of fn sees the snapshot taken by its first one. Other dialects use
// their default transaction.
func (s *GormTransactionScope) Read(ctx context.Context, fn func(repos stock.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx, recorder: s.recorder})
	}, snapshotOptions(s.db)...)
}

func snapshotOptions(db *gorm.DB) []*sql.TxOptions {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return []*sql.TxOptions{{Isolation: sql.LevelRepeatableRead, ReadOnly: true}}
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx       *gorm.DB
	recorder EventRecorderFactory
}

func (r *gormTransactionalRepositories) Locations() location.LocationRepository {
	return NewGormLocationRepository(r.tx)
}

func (r *gormTransactionalRepositories) Balances() ledger.BalanceRepository {
	return NewGormBalanceRepository(r.tx)
}

func (r *gormTransactionalRepositories) Movements() ledger.MovementRepository {
	return NewGormMovementRepository(r.tx)
}

func (r *gormTransactionalRepositories) Pending() pending.PendingMovementRepository {
	return NewGormPendingMovementRepository(r.tx)
}

func (r *gormTransactionalRepositories) Events() shared.EventRecorder {
	return r.recorder(r.tx)
}

// Ensure GormTransactionScope implements TransactionScope
var _ stock.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ stock.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
