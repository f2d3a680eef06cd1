package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InwardReceiptEvent is goods received against a purchase order.
type InwardReceiptEvent struct {
	ID               int               `gorm:"primary_key" json:"id"`
	SourceEventId    string            `gorm:"size:100;uniqueIndex;not null" json:"source_event_id"`
	MaterialId       int               `gorm:"index:idx_inward_material_date;not null" json:"material_id"`
	Quantity         decimal.Decimal   `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	ExtraQuantity    decimal.Decimal   `gorm:"type:decimal(20,4);not null;default:0" json:"extra_quantity"`
	Status           InwardEventStatus `gorm:"size:20;not null" json:"status"`
	EventTime        time.Time         `gorm:"not null" json:"event_time"`
	StockDate        time.Time         `gorm:"type:date;index:idx_inward_material_date;not null" json:"stock_date"`
	PurchaseOrderRef string            `gorm:"size:100" json:"purchase_order_ref"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// CountedQty is the quantity that reaches on-hand stock: zero for Draft and Cancelled.
func (e *InwardReceiptEvent) CountedQty() decimal.Decimal {
	if e.Status == InwardEventStatusDraft || e.Status == InwardEventStatusCancelled {
		return decimal.Zero
	}
	return e.Quantity.Add(e.ExtraQuantity)
}

// OutwardIssueEvent is material sent out, via an issue record or as a direct issue.
type OutwardIssueEvent struct {
	ID               int                `gorm:"primary_key" json:"id"`
	SourceEventId    string             `gorm:"size:100;uniqueIndex;not null" json:"source_event_id"`
	MaterialId       int                `gorm:"index:idx_outward_material_date;not null" json:"material_id"`
	Quantity         decimal.Decimal    `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	DestinationClass DestinationClass   `gorm:"size:20;not null" json:"destination_class"`
	IssueRecordId    *int               `gorm:"index" json:"issue_record_id"`
	Status           OutwardEventStatus `gorm:"size:20;not null" json:"status"`
	EventTime        time.Time          `gorm:"not null" json:"event_time"`
	StockDate        time.Time          `gorm:"type:date;index:idx_outward_material_date;not null" json:"stock_date"`
	CreatedAt        time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *OutwardIssueEvent) CountedQty() decimal.Decimal {
	if e.Status == OutwardEventStatusCancelled {
		return decimal.Zero
	}
	return e.Quantity
}

// GetInwardEventBySource returns nil when the source event has not been seen.
func GetInwardEventBySource(tx *gorm.DB, sourceEventId string) (*InwardReceiptEvent, error) {
	var event InwardReceiptEvent
	err := tx.Where("source_event_id = ?", sourceEventId).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func GetOutwardEventBySource(tx *gorm.DB, sourceEventId string) (*OutwardIssueEvent, error) {
	var event OutwardIssueEvent
	err := tx.Where("source_event_id = ?", sourceEventId).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// MaterialEventFilter narrows event queries to [From, To) by stock date; zero bounds are open.
type MaterialEventFilter struct {
	MaterialId int
	From       time.Time
	To         time.Time
}

func (f MaterialEventFilter) apply(tx *gorm.DB) *gorm.DB {
	q := tx.Where("material_id = ?", f.MaterialId)
	if !f.From.IsZero() {
		q = q.Where("stock_date >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("stock_date < ?", f.To)
	}
	return q
}

func ListInwardEvents(tx *gorm.DB, filter MaterialEventFilter) ([]*InwardReceiptEvent, error) {
	var events []*InwardReceiptEvent
	err := filter.apply(tx).Order("stock_date, id").Find(&events).Error
	return events, err
}

func ListOutwardEvents(tx *gorm.DB, filter MaterialEventFilter) ([]*OutwardIssueEvent, error) {
	var events []*OutwardIssueEvent
	err := filter.apply(tx).Order("stock_date, id").Find(&events).Error
	return events, err
}

// ListDirectOutwardEvents returns active outward events that have no issue record.
func ListDirectOutwardEvents(tx *gorm.DB, materialId int) ([]*OutwardIssueEvent, error) {
	var events []*OutwardIssueEvent
	err := tx.Where("material_id = ? AND issue_record_id IS NULL AND status = ?", materialId, OutwardEventStatusActive).
		Order("stock_date, id").Find(&events).Error
	return events, err
}

// ListOrphanInwardEvents returns inward events whose material does not exist.
func ListOrphanInwardEvents(tx *gorm.DB) ([]*InwardReceiptEvent, error) {
	var events []*InwardReceiptEvent
	err := tx.Where("material_id NOT IN (?)", tx.Session(&gorm.Session{NewDB: true}).Model(&Material{}).Select("id")).
		Order("material_id, stock_date, id").Find(&events).Error
	return events, err
}

func ListOrphanOutwardEvents(tx *gorm.DB) ([]*OutwardIssueEvent, error) {
	var events []*OutwardIssueEvent
	err := tx.Where("material_id NOT IN (?)", tx.Session(&gorm.Session{NewDB: true}).Model(&Material{}).Select("id")).
		Order("material_id, stock_date, id").Find(&events).Error
	return events, err
}
