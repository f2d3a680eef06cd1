package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerEntry is the daily balance of one material. For any entry with a
// predecessor, OpeningStock equals the predecessor's ClosingStock once the
// material has been recomputed.
type LedgerEntry struct {
	ID           int             `gorm:"primary_key" json:"id"`
	MaterialId   int             `gorm:"uniqueIndex:idx_ledger_material_date;not null" json:"material_id"`
	EntryDate    time.Time       `gorm:"type:date;uniqueIndex:idx_ledger_material_date;not null" json:"entry_date"`
	OpeningStock decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"opening_stock"`
	InwardQty    decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"inward_qty"`
	OutwardQty   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"outward_qty"`
	ClosingStock decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"closing_stock"`
	Unit         string          `gorm:"size:30" json:"unit"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// GetLedgerEntry returns nil when no entry exists for the day.
func GetLedgerEntry(tx *gorm.DB, materialId int, day time.Time) (*LedgerEntry, error) {
	var entry LedgerEntry
	err := tx.Where("material_id = ? AND entry_date = ?", materialId, day).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetPreviousLedgerEntry returns the latest entry strictly before day, or nil.
func GetPreviousLedgerEntry(tx *gorm.DB, materialId int, day time.Time) (*LedgerEntry, error) {
	var entry LedgerEntry
	err := tx.Where("material_id = ? AND entry_date < ?", materialId, day).
		Order("entry_date DESC").First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func HasLedgerEntryAfter(tx *gorm.DB, materialId int, day time.Time) (bool, error) {
	var count int64
	err := tx.Model(&LedgerEntry{}).Where("material_id = ? AND entry_date > ?", materialId, day).Count(&count).Error
	return count > 0, err
}

// ListLedgerEntries returns entries with entry_date in [from, to); zero bounds are open.
func ListLedgerEntries(tx *gorm.DB, materialId int, from time.Time, to time.Time) ([]*LedgerEntry, error) {
	q := tx.Where("material_id = ?", materialId)
	if !from.IsZero() {
		q = q.Where("entry_date >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("entry_date < ?", to)
	}
	var entries []*LedgerEntry
	err := q.Order("entry_date").Find(&entries).Error
	return entries, err
}

// UpsertLedgerEntry writes every balance field of the (material, date) row.
func UpsertLedgerEntry(tx *gorm.DB, entry *LedgerEntry) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "material_id"}, {Name: "entry_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"opening_stock", "inward_qty", "outward_qty", "closing_stock", "unit", "updated_at"}),
	}).Create(entry).Error
}

// UpdateLedgerOpening refreshes only the opening field of an existing entry.
func UpdateLedgerOpening(tx *gorm.DB, entryId int, opening decimal.Decimal) error {
	return tx.Model(&LedgerEntry{}).Where("id = ?", entryId).Update("opening_stock", opening).Error
}

// UpdateLedgerClosing refreshes only the closing field of an existing entry.
func UpdateLedgerClosing(tx *gorm.DB, entryId int, closing decimal.Decimal) error {
	return tx.Model(&LedgerEntry{}).Where("id = ?", entryId).Update("closing_stock", closing).Error
}

func SaveLedgerMovement(tx *gorm.DB, entry *LedgerEntry) error {
	return tx.Model(&LedgerEntry{}).Where("id = ?", entry.ID).Updates(map[string]interface{}{
		"inward_qty":    entry.InwardQty,
		"outward_qty":   entry.OutwardQty,
		"closing_stock": entry.ClosingStock,
	}).Error
}
