package models

import (
	"github.com/erp/stockledger/internal/domain/location"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LocationModel is the persistence model for the Location aggregate root.
// The key column is unique per warehouse.
type LocationModel struct {
	AggregateModel
	WarehouseID  uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_location_warehouse_key,priority:1"`
	ParentID     *uuid.UUID      `gorm:"type:uuid;index"`
	Level        string          `gorm:"type:varchar(10);not null"`
	Zone         string          `gorm:"type:varchar(20);not null"`
	Aisle        string          `gorm:"type:varchar(20)"`
	Rack         string          `gorm:"type:varchar(20)"`
	Shelf        string          `gorm:"type:varchar(20)"`
	Bin          string          `gorm:"type:varchar(20)"`
	Key          string          `gorm:"column:location_key;type:varchar(120);not null;uniqueIndex:idx_location_warehouse_key,priority:2"`
	Type         string          `gorm:"column:location_type;type:varchar(30);not null"`
	Capacity     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	CurrentUsage decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	IsReserved   bool            `gorm:"not null;default:false"`
	ProductID    *uuid.UUID      `gorm:"type:uuid"`
}

// TableName returns the table name for GORM
func (LocationModel) TableName() string {
	return "locations"
}

// ToDomain converts the persistence model to a loaded domain Location
func (m *LocationModel) ToDomain() *location.Location {
	return &location.Location{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		WarehouseID:       m.WarehouseID,
		ParentID:          m.ParentID,
		Level:             location.Level(m.Level),
		Zone:              m.Zone,
		Aisle:             m.Aisle,
		Rack:              m.Rack,
		Shelf:             m.Shelf,
		Bin:               m.Bin,
		Key:               m.Key,
		Type:              location.LocationType(m.Type),
		Capacity:          m.Capacity,
		CurrentUsage:      m.CurrentUsage,
		IsReserved:        m.IsReserved,
		ProductID:         m.ProductID,
	}
}

// FromDomain populates the persistence model from a domain Location
func (m *LocationModel) FromDomain(l *location.Location) {
	m.FromDomainAggregateRoot(l.BaseAggregateRoot)
	m.WarehouseID = l.WarehouseID
	m.ParentID = l.ParentID
	m.Level = string(l.Level)
	m.Zone = l.Zone
	m.Aisle = l.Aisle
	m.Rack = l.Rack
	m.Shelf = l.Shelf
	m.Bin = l.Bin
	m.Key = l.Key
	m.Type = string(l.Type)
	m.Capacity = l.Capacity
	m.CurrentUsage = l.CurrentUsage
	m.IsReserved = l.IsReserved
	m.ProductID = l.ProductID
}

// LocationModelFromDomain creates a new persistence model from a domain Location
func LocationModelFromDomain(l *location.Location) *LocationModel {
	m := &LocationModel{}
	m.FromDomain(l)
	return m
}
