package event

import (
	"context"
	"testing"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestEntry(eventType string) *shared.OutboxEntry {
	return shared.NewOutboxEntry(newTestEvent(eventType), []byte(`{"data":"test data"}`))
}

func TestGormOutboxRepository_SaveAndFindPending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	first := newTestEntry("MovementCommitted")
	second := newTestEntry("LocationHoldChanged")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, repo.Save(ctx, first, second))
	require.NoError(t, repo.Save(ctx))

	pending, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
	assert.Equal(t, []byte(`{"data":"test data"}`), pending[0].Payload)
	assert.Equal(t, shared.DefaultMaxRetries, pending[0].MaxRetries)

	limited, err := repo.FindPending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGormOutboxRepository_MarkProcessing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	entry := newTestEntry("MovementCommitted")
	require.NoError(t, repo.Save(ctx, entry))

	claimed, err := repo.MarkProcessing(ctx, []uuid.UUID{entry.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, shared.OutboxStatusProcessing, claimed[0].Status)

	// a second claim finds nothing left to take
	again, err := repo.MarkProcessing(ctx, []uuid.UUID{entry.ID})
	require.NoError(t, err)
	assert.Empty(t, again)

	pending, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	none, err := repo.MarkProcessing(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGormOutboxRepository_UpdateAndFindRetryable(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	entry := newTestEntry("MovementCommitted")
	require.NoError(t, repo.Save(ctx, entry))
	require.NoError(t, entry.MarkProcessing())
	entry.MarkFailed("broker unavailable")
	require.NoError(t, repo.Update(ctx, entry))

	notYet, err := repo.FindRetryable(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, notYet)

	due, err := repo.FindRetryable(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].RetryCount)
	assert.Equal(t, "broker unavailable", due[0].LastError)

	stored := storedEntry(t, db, entry.ID)
	require.NotNil(t, stored)
	assert.Equal(t, shared.OutboxStatusFailed, stored.Status)
}

func TestGormOutboxRepository_DeadLettersAndCounts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	dead := newTestEntry("MovementCommitted")
	dead.MaxRetries = 1
	sent := newTestEntry("MovementCommitted")
	open := newTestEntry("LocationHoldChanged")
	require.NoError(t, repo.Save(ctx, dead, sent, open))

	dead.MarkFailed("poison message")
	require.True(t, dead.IsDead())
	require.NoError(t, repo.Update(ctx, dead))
	sent.MarkSent()
	require.NoError(t, repo.Update(ctx, sent))

	retryable, err := repo.FindRetryable(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, retryable)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[shared.OutboxStatusDead])
	assert.Equal(t, int64(1), counts[shared.OutboxStatusSent])
	assert.Equal(t, int64(1), counts[shared.OutboxStatusPending])
}

func TestGormOutboxRepository_DeleteSentBefore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	sent := newTestEntry("MovementCommitted")
	open := newTestEntry("MovementCommitted")
	require.NoError(t, repo.Save(ctx, sent, open))
	sent.MarkSent()
	require.NoError(t, repo.Update(ctx, sent))

	deleted, err := repo.DeleteSentBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = repo.DeleteSentBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	assert.NotNil(t, storedEntry(t, db, open.ID))
	assert.Nil(t, storedEntry(t, db, sent.ID))
}

func TestGormOutboxRepository_KeepsCorrelation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormOutboxRepository(db)
	ctx := context.Background()

	evt := newTestEvent("MovementCommitted")
	evt.Correlate("po-1001-line-1")
	entry := shared.NewOutboxEntry(evt, []byte(`{}`))
	require.NoError(t, repo.Save(ctx, entry))

	var count int64
	require.NoError(t, db.Model(&models.OutboxEntryModel{}).
		Where("correlation_id = ?", "po-1001-line-1").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)

	pending, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "po-1001-line-1", pending[0].CorrelationID)
}

// storedEntry loads an entry straight from the table, nil when absent
func storedEntry(t *testing.T, db *gorm.DB, id uuid.UUID) *shared.OutboxEntry {
	t.Helper()
	var rows []models.OutboxEntryModel
	require.NoError(t, db.Where("id = ?", id).Find(&rows).Error)
	if len(rows) == 0 {
		return nil
	}
	return rows[0].ToDomain()
}
