package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity provides identity and timestamps for entities
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GetID returns the entity ID
func (e *BaseEntity) GetID() uuid.UUID {
	return e.ID
}

// NewBaseEntity creates a base entity with a generated ID
func NewBaseEntity() BaseEntity {
	now := time.Now()
	return BaseEntity{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AggregateRoot is implemented by every versioned aggregate
type AggregateRoot interface {
	GetID() uuid.UUID
	GetVersion() int
	IsModified() bool
	MarkPersisted()
	GetDomainEvents() []DomainEvent
	ClearDomainEvents()
}

// BaseAggregateRoot carries the optimistic-locking version and pending events.
//
// Version is bumped at most once per loaded instance: the first mutation after
// a load (or after MarkPersisted) increments it, later mutations in the same
// unit of work reuse the new value. Repositories write with
// "WHERE version = Version-1" and treat Version == 1 as an insert.
type BaseAggregateRoot struct {
	BaseEntity
	Version      int
	modified     bool
	domainEvents []DomainEvent
}

// NewBaseAggregateRoot creates an unsaved aggregate at version 1
func NewBaseAggregateRoot() BaseAggregateRoot {
	a := BaseAggregateRoot{BaseEntity: NewBaseEntity()}
	a.MarkModified()
	return a
}

// GetVersion returns the aggregate version
func (a *BaseAggregateRoot) GetVersion() int {
	return a.Version
}

// MarkModified records a mutation
func (a *BaseAggregateRoot) MarkModified() {
	if !a.modified {
		a.Version++
		a.modified = true
	}
	a.UpdatedAt = time.Now()
}

// IsModified reports whether the aggregate changed since it was loaded or saved
func (a *BaseAggregateRoot) IsModified() bool {
	return a.modified
}

// IsNew reports whether the aggregate has never been persisted
func (a *BaseAggregateRoot) IsNew() bool {
	return a.modified && a.Version == 1
}

// MarkPersisted is called by repositories after a successful write
func (a *BaseAggregateRoot) MarkPersisted() {
	a.modified = false
}

// AddDomainEvent adds a domain event to be published
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.domainEvents = append(a.domainEvents, event)
}

// GetDomainEvents returns all pending domain events
func (a *BaseAggregateRoot) GetDomainEvents() []DomainEvent {
	return a.domainEvents
}

// ClearDomainEvents clears the pending domain events
func (a *BaseAggregateRoot) ClearDomainEvents() {
	a.domainEvents = nil
}
