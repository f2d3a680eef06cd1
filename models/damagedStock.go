package models

import (
	"errors"
	"time"

	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DamagedStockEntry reports material returned damaged. It only reduces the
// remaining returnable quantity; WIP is released by an explicit write-off.
type DamagedStockEntry struct {
	ID              int             `gorm:"primary_key" json:"id"`
	IssueRecordId   int             `gorm:"index:idx_damaged_issue_material;not null" json:"issue_record_id"`
	ReceiptRecordId *int            `gorm:"index" json:"receipt_record_id"`
	MaterialId      int             `gorm:"index:idx_damaged_issue_material;not null" json:"material_id"`
	SentQty         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"sent_qty"`
	DamagedQty      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"damaged_qty"`
	Status          DamageStatus    `gorm:"size:20;index;not null" json:"status"`
	EnteredBy       string          `gorm:"size:100" json:"entered_by"`
	EnteredAt       time.Time       `gorm:"not null" json:"entered_at"`
	ReviewedBy      string          `gorm:"size:100" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
	Note            string          `gorm:"type:text" json:"note"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetDamagedStockEntry(tx *gorm.DB, id int) (*DamagedStockEntry, error) {
	var entry DamagedStockEntry
	err := tx.Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// ReservedDamagedQty sums Pending and Approved damaged quantity per material of an issue.
func ReservedDamagedQty(tx *gorm.DB, issueId int) (map[int]decimal.Decimal, error) {
	var entries []*DamagedStockEntry
	err := tx.Where("issue_record_id = ? AND status IN ?", issueId, []DamageStatus{DamageStatusPending, DamageStatusApproved}).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[int]decimal.Decimal)
	for _, e := range entries {
		totals[e.MaterialId] = totals[e.MaterialId].Add(e.DamagedQty)
	}
	return totals, nil
}

func ListDamagedStockEntries(tx *gorm.DB, issueId int) ([]*DamagedStockEntry, error) {
	var entries []*DamagedStockEntry
	err := tx.Where("issue_record_id = ?", issueId).Order("id").Find(&entries).Error
	return entries, err
}

func ListDamagedEntriesByReceipt(tx *gorm.DB, receiptId int) ([]*DamagedStockEntry, error) {
	var entries []*DamagedStockEntry
	err := tx.Where("receipt_record_id = ?", receiptId).Order("id").Find(&entries).Error
	return entries, err
}

func UpdateDamagedStockReview(tx *gorm.DB, entry *DamagedStockEntry) error {
	return tx.Model(&DamagedStockEntry{}).Where("id = ?", entry.ID).Updates(map[string]interface{}{
		"status":      entry.Status,
		"reviewed_by": entry.ReviewedBy,
		"reviewed_at": entry.ReviewedAt,
		"note":        entry.Note,
	}).Error
}
