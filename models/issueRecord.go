package models

import (
	"errors"
	"time"

	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// IssueRecord sends materials to an own unit or a jobber for a set of products.
type IssueRecord struct {
	ID               int              `gorm:"primary_key" json:"id"`
	IssueNumber      string           `gorm:"size:40;uniqueIndex;not null" json:"issue_number"`
	DestinationClass DestinationClass `gorm:"size:20;not null" json:"destination_class"`
	DestinationName  string           `gorm:"size:150" json:"destination_name"`
	Status           IssueStatus      `gorm:"size:20;index;not null" json:"status"`
	IssueDate        time.Time        `gorm:"not null" json:"issue_date"`
	StockDate        time.Time        `gorm:"type:date;not null" json:"stock_date"`
	IssuedBy         string           `gorm:"size:100" json:"issued_by"`
	CancelledBy      string           `gorm:"size:100" json:"cancelled_by,omitempty"`
	CancelledAt      *time.Time       `json:"cancelled_at,omitempty"`
	CancelReason     string           `gorm:"type:text" json:"cancel_reason,omitempty"`
	Products         []*IssueProduct  `gorm:"foreignKey:IssueRecordId" json:"products"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type IssueProduct struct {
	ID            int                  `gorm:"primary_key" json:"id"`
	IssueRecordId int                  `gorm:"index;not null" json:"issue_record_id"`
	ProductId     int                  `gorm:"not null" json:"product_id"`
	ProductName   string               `gorm:"size:150" json:"product_name"`
	UnitsIssued   decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"units_issued"`
	State         FulfillmentState     `gorm:"size:20;not null" json:"state"`
	Materials     []*IssueMaterialLine `gorm:"foreignKey:IssueProductId" json:"materials"`
}

// IssueMaterialLine is one bill-of-materials line of an issued product.
type IssueMaterialLine struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	IssueRecordId       int             `gorm:"index;not null" json:"issue_record_id"`
	IssueProductId      int             `gorm:"index;not null" json:"issue_product_id"`
	MaterialId          int             `gorm:"index;not null" json:"material_id"`
	QuantityPerUnit     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity_per_unit"`
	TotalQuantityIssued decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_quantity_issued"`
}

// MaterialIds returns the distinct material ids of the issue in ascending order.
func (r *IssueRecord) MaterialIds() []int {
	var ids []int
	for _, p := range r.Products {
		for _, l := range p.Materials {
			ids = append(ids, l.MaterialId)
		}
	}
	return utils.SortedUniqueInts(ids)
}

// MaterialTotals is the quantity sent per material across all products.
func (r *IssueRecord) MaterialTotals() map[int]decimal.Decimal {
	totals := make(map[int]decimal.Decimal)
	for _, p := range r.Products {
		for _, l := range p.Materials {
			totals[l.MaterialId] = totals[l.MaterialId].Add(l.TotalQuantityIssued)
		}
	}
	return totals
}

func (r *IssueRecord) Product(issueProductId int) *IssueProduct {
	for _, p := range r.Products {
		if p.ID == issueProductId {
			return p
		}
	}
	return nil
}

func GetIssueRecord(tx *gorm.DB, id int) (*IssueRecord, error) {
	var issue IssueRecord
	err := tx.Preload("Products", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).Preload("Products.Materials", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).Where("id = ?", id).First(&issue).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &issue, nil
}

// GetIssueMaterialIds reads the material ids of an issue without loading it.
func GetIssueMaterialIds(tx *gorm.DB, issueId int) ([]int, error) {
	var count int64
	if err := tx.Model(&IssueRecord{}).Where("id = ?", issueId).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	var ids []int
	err := tx.Model(&IssueMaterialLine{}).Where("issue_record_id = ?", issueId).
		Distinct("material_id").Order("material_id").Pluck("material_id", &ids).Error
	return ids, err
}

// ListIssueIdsForMaterial returns ids of non-cancelled issues that sent the material.
func ListIssueIdsForMaterial(tx *gorm.DB, materialId int) ([]int, error) {
	var ids []int
	err := tx.Model(&IssueRecord{}).
		Where("status <> ? AND id IN (?)", IssueStatusCancelled,
			tx.Session(&gorm.Session{NewDB: true}).Model(&IssueMaterialLine{}).Select("issue_record_id").Where("material_id = ?", materialId)).
		Order("id").Pluck("id", &ids).Error
	return ids, err
}

// CreateIssueRecord inserts the issue, its products and their material lines.
func CreateIssueRecord(tx *gorm.DB, issue *IssueRecord) error {
	if err := tx.Omit("Products").Create(issue).Error; err != nil {
		return err
	}
	for _, p := range issue.Products {
		p.IssueRecordId = issue.ID
		if err := tx.Omit("Materials").Create(p).Error; err != nil {
			return err
		}
		for _, l := range p.Materials {
			l.IssueRecordId = issue.ID
			l.IssueProductId = p.ID
		}
		if len(p.Materials) > 0 {
			if err := tx.Create(&p.Materials).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func UpdateIssueProductState(tx *gorm.DB, issueProductId int, state FulfillmentState) error {
	return tx.Model(&IssueProduct{}).Where("id = ?", issueProductId).Update("state", state).Error
}

func UpdateIssueStatus(tx *gorm.DB, issueId int, status IssueStatus) error {
	return tx.Model(&IssueRecord{}).Where("id = ?", issueId).Update("status", status).Error
}
