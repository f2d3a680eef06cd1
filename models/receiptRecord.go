package models

import (
	"errors"
	"time"

	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReceiptRecord is one return of finished units against an issue record.
type ReceiptRecord struct {
	ID            int                   `gorm:"primary_key" json:"id"`
	ReceiptNumber string                `gorm:"size:40;uniqueIndex;not null" json:"receipt_number"`
	IssueRecordId int                   `gorm:"index;not null" json:"issue_record_id"`
	ReceivedDate  time.Time             `gorm:"not null" json:"received_date"`
	StockDate     time.Time             `gorm:"type:date;not null" json:"stock_date"`
	ReceivedBy    string                `gorm:"size:100" json:"received_by"`
	Status        ReceiptStatus         `gorm:"size:20;index;not null" json:"status"`
	CancelledBy   string                `gorm:"size:100" json:"cancelled_by,omitempty"`
	CancelledAt   *time.Time            `json:"cancelled_at,omitempty"`
	CancelReason  string                `gorm:"type:text" json:"cancel_reason,omitempty"`
	Lines         []*ReceiptProductLine `gorm:"foreignKey:ReceiptRecordId" json:"lines"`
	CreatedAt     time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type ReceiptProductLine struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ReceiptRecordId int             `gorm:"index;not null" json:"receipt_record_id"`
	IssueRecordId   int             `gorm:"index;not null" json:"issue_record_id"`
	IssueProductId  int             `gorm:"index;not null" json:"issue_product_id"`
	ReceivedUnits   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"received_units"`
}

func GetReceiptRecord(tx *gorm.DB, id int) (*ReceiptRecord, error) {
	var receipt ReceiptRecord
	err := tx.Preload("Lines").Where("id = ?", id).First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &receipt, nil
}

func CreateReceiptRecord(tx *gorm.DB, receipt *ReceiptRecord) error {
	if err := tx.Omit("Lines").Create(receipt).Error; err != nil {
		return err
	}
	for _, l := range receipt.Lines {
		l.ReceiptRecordId = receipt.ID
		l.IssueRecordId = receipt.IssueRecordId
	}
	if len(receipt.Lines) == 0 {
		return nil
	}
	return tx.Create(&receipt.Lines).Error
}

// CumulativeReceivedUnits sums active receipt lines per issue product.
// A non-zero excludeReceiptId leaves that receipt out of the sum.
func CumulativeReceivedUnits(tx *gorm.DB, issueId int, excludeReceiptId int) (map[int]decimal.Decimal, error) {
	receipts := tx.Session(&gorm.Session{NewDB: true}).Model(&ReceiptRecord{}).Select("id").
		Where("issue_record_id = ? AND status = ?", issueId, ReceiptStatusActive)
	if excludeReceiptId > 0 {
		receipts = receipts.Where("id <> ?", excludeReceiptId)
	}
	var lines []*ReceiptProductLine
	err := tx.Where("issue_record_id = ? AND receipt_record_id IN (?)", issueId, receipts).Find(&lines).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[int]decimal.Decimal)
	for _, l := range lines {
		totals[l.IssueProductId] = totals[l.IssueProductId].Add(l.ReceivedUnits)
	}
	return totals, nil
}

func CountActiveReceipts(tx *gorm.DB, issueId int) (int64, error) {
	var count int64
	err := tx.Model(&ReceiptRecord{}).Where("issue_record_id = ? AND status = ?", issueId, ReceiptStatusActive).Count(&count).Error
	return count, err
}

func ListReceiptRecords(tx *gorm.DB, issueId int) ([]*ReceiptRecord, error) {
	var receipts []*ReceiptRecord
	err := tx.Preload("Lines").Where("issue_record_id = ?", issueId).Order("id").Find(&receipts).Error
	return receipts, err
}
