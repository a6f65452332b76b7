package stock

import (
	"testing"
	"time"

	"github.com/erp/stockledger/internal/domain/analytics"
	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/location"
	"github.com/erp/stockledger/internal/domain/pending"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestStockStatusHandler_Handle(t *testing.T) {
	f := newFixture(t)
	product := uuid.New()
	require.NoError(t, f.policies.Save(f.ctx, &analytics.StockPolicy{ProductID: product, MinQuantity: dec(10)}))
	received := f.receive(product, f.binX, 14)

	core, recorded := observer.New(zapcore.DebugLevel)
	handler := NewStockStatusHandler(f.analytics, zap.New(core))
	assert.Equal(t, []string{ledger.EventTypeMovementCommitted}, handler.EventTypes())

	t.Run("receipts are skipped", func(t *testing.T) {
		require.NoError(t, handler.Handle(f.ctx, ledger.NewMovementCommittedEvent(received)))
		assert.Zero(t, recorded.Len())
	})

	t.Run("shipment into low stock", func(t *testing.T) {
		f.ship(product, f.binX.ID, 5)
		movements := f.store.committedMovements()
		shipped := movements[len(movements)-1]

		require.NoError(t, handler.Handle(f.ctx, ledger.NewMovementCommittedEvent(&shipped)))
		entries := recorded.FilterMessage("product stock is running low").All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
		assert.Equal(t, string(analytics.StatusLowStock), entries[0].ContextMap()["status"])
		assert.Equal(t, "9", entries[0].ContextMap()["total"])
	})

	t.Run("wrong event type", func(t *testing.T) {
		p, err := pending.NewPendingMovement(pending.KindReceive, product, f.dock.ID, dec(1), dec(0), "op", "")
		require.NoError(t, err)
		assert.Error(t, handler.Handle(f.ctx, pending.NewCancelledEvent(p, "test")))
	})
}

func TestIntegrityAlertHandler_Handle(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	handler := NewIntegrityAlertHandler(zap.New(core))
	assert.Equal(t, []string{ledger.EventTypeLedgerIntegrityViolated}, handler.EventTypes())

	b := ledger.NewBalance(uuid.New(), uuid.New())
	d := ledger.Discrepancy{Key: b.Key(), Balance: dec(7), Folded: dec(4)}
	require.NoError(t, handler.Handle(t.Context(), ledger.NewLedgerIntegrityViolatedEvent(b, d)))

	entries := recorded.FilterMessage("balance frozen after integrity check").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "7", entries[0].ContextMap()["balance"])
	assert.Equal(t, "4", entries[0].ContextMap()["folded"])

	loc, err := location.NewLocation(uuid.New(), nil, "Z", location.LocationTypeStorage, dec(0))
	require.NoError(t, err)
	loc.Hold()
	assert.Error(t, handler.Handle(t.Context(), loc.GetDomainEvents()[0]))
}

func TestMaintenance_Run(t *testing.T) {
	f := newFixture(t)
	product := uuid.New()
	f.receive(product, f.binX, 10)
	stale := f.startPending(pending.KindReceive, product, f.dock, 5)

	m := NewMaintenance(f.analytics, f.integrity, f.reconciler, zaptest.NewLogger(t))
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	for _, task := range AllMaintenanceTasks() {
		require.NoError(t, m.Run(f.ctx, task), task)
	}

	stored, err := f.reconciler.Get(f.ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, pending.StatusCancelled, stored.Status)

	f.store.corrupt(product, f.binX.ID, dec(11))
	require.NoError(t, m.Run(f.ctx, TaskVerifyLedger))
	b, ok := f.store.balance(product, f.binX.ID)
	require.True(t, ok)
	assert.True(t, b.Frozen)

	assert.Error(t, m.Run(f.ctx, MaintenanceTask("compact")))
}

func TestMovementProcessor_LogsCorrelateByIdempotencyID(t *testing.T) {
	f := newFixture(t)
	core, recorded := observer.New(zapcore.DebugLevel)
	ctx := logger.WithContext(f.ctx, zap.New(core))

	to := f.binX.ID
	_, err := f.processor.SubmitIntent(ctx, ledger.Intent{
		IdempotencyID: "rcv-42",
		ProductID:     uuid.New(),
		Type:          ledger.MovementTypeReceive,
		Quantity:      dec(3),
		ToLocationID:  &to,
	})
	require.NoError(t, err)

	entries := recorded.FilterMessage("movement committed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "rcv-42", entries[0].ContextMap()["correlation_id"])
}

func TestReconciler_ScanLogsCarryWorkflowContext(t *testing.T) {
	f := newFixture(t)
	p := f.startPending(pending.KindReceive, uuid.New(), f.binX, 5)

	core, recorded := observer.New(zapcore.DebugLevel)
	ctx := logger.WithContext(f.ctx, zap.New(core))
	res, err := f.reconciler.Scan(ctx, ScanEvent{
		PendingMovementID: p.ID.String(),
		ScannedDelta:      dec(5),
		Operator:          "scanner-7",
	})
	require.NoError(t, err)
	require.True(t, res.Completed())

	// the final movement is logged under the workflow, not its own idempotency id
	for _, msg := range []string{"movement committed", "pending movement completed"} {
		entries := recorded.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		fields := entries[0].ContextMap()
		assert.Equal(t, p.ID.String(), fields["correlation_id"], msg)
		assert.Equal(t, "scanner-7", fields["operator"], msg)
	}
}

func TestMaintenance_RunLogsAsTask(t *testing.T) {
	f := newFixture(t)
	product := uuid.New()
	f.receive(product, f.binX, 10)
	f.store.corrupt(product, f.binX.ID, dec(11))

	core, recorded := observer.New(zapcore.DebugLevel)
	ctx := logger.WithContext(f.ctx, zap.New(core))
	m := NewMaintenance(f.analytics, f.integrity, f.reconciler, zaptest.NewLogger(t))
	require.NoError(t, m.Run(ctx, TaskVerifyLedger))

	for _, msg := range []string{"ledger verification froze balances", "maintenance task finished"} {
		entries := recorded.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		assert.Equal(t, string(TaskVerifyLedger), entries[0].ContextMap()["operator"], msg)
	}
}
