package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WIPWriteOff moves unresolved WIP into the written-off sink. IssueRecordId is
// nil for write-offs against direct issues.
type WIPWriteOff struct {
	ID                  int              `gorm:"primary_key" json:"id"`
	IssueRecordId       *int             `gorm:"index" json:"issue_record_id"`
	MaterialId          int              `gorm:"index;not null" json:"material_id"`
	DestinationClass    DestinationClass `gorm:"size:20;not null" json:"destination_class"`
	Quantity            decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Reason              string           `gorm:"type:text;not null" json:"reason"`
	DamagedStockEntryId *int             `gorm:"index" json:"damaged_stock_entry_id"`
	Actor               string           `gorm:"size:100" json:"actor"`
	CorrelationId       string           `gorm:"size:64" json:"correlation_id"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (WIPWriteOff) TableName() string {
	return "wip_write_offs"
}

// WrittenOffByIssue sums write-offs per material for an issue.
func WrittenOffByIssue(tx *gorm.DB, issueId int) (map[int]decimal.Decimal, error) {
	var rows []*WIPWriteOff
	if err := tx.Where("issue_record_id = ?", issueId).Find(&rows).Error; err != nil {
		return nil, err
	}
	totals := make(map[int]decimal.Decimal)
	for _, r := range rows {
		totals[r.MaterialId] = totals[r.MaterialId].Add(r.Quantity)
	}
	return totals, nil
}

// WrittenOffDirect sums write-offs against direct issues of a material and class.
func WrittenOffDirect(tx *gorm.DB, materialId int, class DestinationClass) (decimal.Decimal, error) {
	var rows []*WIPWriteOff
	err := tx.Where("issue_record_id IS NULL AND material_id = ? AND destination_class = ?", materialId, class).Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Quantity)
	}
	return total, nil
}

func CountWriteOffsForDamagedEntry(tx *gorm.DB, damagedEntryId int) (int64, error) {
	var count int64
	err := tx.Model(&WIPWriteOff{}).Where("damaged_stock_entry_id = ?", damagedEntryId).Count(&count).Error
	return count, err
}
