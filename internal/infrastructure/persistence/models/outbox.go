package models

import (
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OutboxEntryModel is one row of outbox_events: a stock event serialized in
// the transaction that raised it, waiting for the outbox processor.
// CorrelationID lets an operator pull every event of one intent or pending
// movement.
type OutboxEntryModel struct {
	BaseModel
	EventID       uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:idx_outbox_events_event_id"`
	EventType     string              `gorm:"type:varchar(255);not null"`
	AggregateID   uuid.UUID           `gorm:"type:uuid;not null"`
	AggregateType string              `gorm:"type:varchar(255);not null"`
	CorrelationID string              `gorm:"type:varchar(255);index:idx_outbox_correlation"`
	Payload       []byte              `gorm:"not null"`
	Status        shared.OutboxStatus `gorm:"type:varchar(20);not null;default:PENDING;index:idx_outbox_status_created,priority:1"`
	RetryCount    int                 `gorm:"not null;default:0"`
	MaxRetries    int                 `gorm:"not null;default:5"`
	LastError     string              `gorm:"type:text"`
	NextRetryAt   *time.Time          `gorm:"index:idx_outbox_next_retry"`
	ProcessedAt   *time.Time
}

// TableName returns the table name for GORM
func (OutboxEntryModel) TableName() string {
	return "outbox_events"
}

// OutboxInStatus restricts a query to entries in one of statuses
func OutboxInStatus(statuses ...shared.OutboxStatus) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if len(statuses) == 1 {
			return db.Where("status = ?", statuses[0])
		}
		return db.Where("status IN ?", statuses)
	}
}

// OutboxClaimable restricts a query to entries the processor may claim
func OutboxClaimable(db *gorm.DB) *gorm.DB {
	return OutboxInStatus(shared.OutboxStatusPending, shared.OutboxStatusFailed)(db)
}

// OutboxDueBefore restricts a query to failed entries whose backoff ended before t
func OutboxDueBefore(t time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Scopes(OutboxInStatus(shared.OutboxStatusFailed)).Where("next_retry_at <= ?", t)
	}
}

// ToDomain converts the row to a domain OutboxEntry
func (m *OutboxEntryModel) ToDomain() *shared.OutboxEntry {
	return &shared.OutboxEntry{
		ID:            m.ID,
		EventID:       m.EventID,
		EventType:     m.EventType,
		AggregateID:   m.AggregateID,
		AggregateType: m.AggregateType,
		CorrelationID: m.CorrelationID,
		Payload:       m.Payload,
		Status:        m.Status,
		RetryCount:    m.RetryCount,
		MaxRetries:    m.MaxRetries,
		LastError:     m.LastError,
		NextRetryAt:   m.NextRetryAt,
		ProcessedAt:   m.ProcessedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// OutboxEntryModelFromDomain creates the row of a domain OutboxEntry
func OutboxEntryModelFromDomain(e *shared.OutboxEntry) *OutboxEntryModel {
	return &OutboxEntryModel{
		BaseModel:     BaseModel{ID: e.ID, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt},
		EventID:       e.EventID,
		EventType:     e.EventType,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		CorrelationID: e.CorrelationID,
		Payload:       e.Payload,
		Status:        e.Status,
		RetryCount:    e.RetryCount,
		MaxRetries:    e.MaxRetries,
		LastError:     e.LastError,
		NextRetryAt:   e.NextRetryAt,
		ProcessedAt:   e.ProcessedAt,
	}
}
