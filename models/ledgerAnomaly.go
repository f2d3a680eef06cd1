package models

import (
	"errors"
	"time"

	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerAnomaly is a consistency finding raised by capture, posting, recompute,
// inbound handling or WIP reconciliation. One row per
// (material, date, type, source, source ref); repeated runs update it in place.
type LedgerAnomaly struct {
	ID            int                 `gorm:"primary_key" json:"id"`
	MaterialId    int                 `gorm:"uniqueIndex:idx_ledger_anomaly_key;not null" json:"material_id"`
	EntryDate     time.Time           `gorm:"type:date;uniqueIndex:idx_ledger_anomaly_key;not null" json:"entry_date"`
	AnomalyType   AnomalyType         `gorm:"size:30;uniqueIndex:idx_ledger_anomaly_key;not null" json:"anomaly_type"`
	Source        AnomalySource       `gorm:"size:20;uniqueIndex:idx_ledger_anomaly_key;not null" json:"source"`
	SourceRef     string              `gorm:"size:100;uniqueIndex:idx_ledger_anomaly_key;not null;default:''" json:"source_ref"`
	RawValue      decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"raw_value"`
	Details       string              `gorm:"type:text" json:"details"`
	RunId         string              `gorm:"size:64;index" json:"run_id"`
	CorrelationId string              `gorm:"size:64;index" json:"correlation_id"`
	ReviewStatus  AnomalyReviewStatus `gorm:"size:20;index;not null" json:"review_status"`
	ReviewedBy    string              `gorm:"size:100" json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time          `json:"reviewed_at,omitempty"`
	Occurrences   int                 `gorm:"not null;default:1" json:"occurrences"`
	CreatedAt     time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func UpsertLedgerAnomaly(tx *gorm.DB, anomaly *LedgerAnomaly) error {
	if anomaly.ReviewStatus == "" {
		anomaly.ReviewStatus = AnomalyReviewStatusOpen
	}
	if anomaly.Occurrences == 0 {
		anomaly.Occurrences = 1
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "material_id"}, {Name: "entry_date"}, {Name: "anomaly_type"}, {Name: "source"}, {Name: "source_ref"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"raw_value":      anomaly.RawValue,
			"details":        anomaly.Details,
			"run_id":         anomaly.RunId,
			"correlation_id": anomaly.CorrelationId,
			"occurrences":    gorm.Expr("occurrences + 1"),
			"updated_at":     time.Now().UTC(),
		}),
	}).Create(anomaly).Error
}

type AnomalyFilter struct {
	MaterialId   int
	AnomalyType  AnomalyType
	ReviewStatus AnomalyReviewStatus
	Limit        int
}

func ListLedgerAnomalies(tx *gorm.DB, filter AnomalyFilter) ([]*LedgerAnomaly, error) {
	q := tx.Model(&LedgerAnomaly{})
	if filter.MaterialId > 0 {
		q = q.Where("material_id = ?", filter.MaterialId)
	}
	if filter.AnomalyType != "" {
		q = q.Where("anomaly_type = ?", filter.AnomalyType)
	}
	if filter.ReviewStatus != "" {
		q = q.Where("review_status = ?", filter.ReviewStatus)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []*LedgerAnomaly
	err := q.Order("entry_date DESC, id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func AcknowledgeLedgerAnomaly(tx *gorm.DB, id int, actor string, at time.Time) (*LedgerAnomaly, error) {
	var anomaly LedgerAnomaly
	if err := tx.Where("id = ?", id).First(&anomaly).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	anomaly.ReviewStatus = AnomalyReviewStatusAcknowledged
	anomaly.ReviewedBy = actor
	anomaly.ReviewedAt = &at
	err := tx.Model(&LedgerAnomaly{}).Where("id = ?", id).Updates(map[string]interface{}{
		"review_status": anomaly.ReviewStatus,
		"reviewed_by":   actor,
		"reviewed_at":   at,
	}).Error
	if err != nil {
		return nil, err
	}
	return &anomaly, nil
}
