package models

import (
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Material is a packing material. OnHandQty, OwnUnitWIP and JobberWIP are the
// live balances; ConsumedQty and WrittenOffQty are the sinks that WIP drains into.
type Material struct {
	ID             int             `gorm:"primary_key" json:"id"`
	Name           string          `gorm:"size:150;uniqueIndex;not null" json:"name"`
	Unit           string          `gorm:"size:30;not null" json:"unit"`
	OnHandQty      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"on_hand_qty"`
	OwnUnitWIP     decimal.Decimal `gorm:"column:own_unit_wip;type:decimal(20,4);not null;default:0" json:"own_unit_wip"`
	JobberWIP      decimal.Decimal `gorm:"column:jobber_wip;type:decimal(20,4);not null;default:0" json:"jobber_wip"`
	ConsumedQty    decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"consumed_qty"`
	WrittenOffQty  decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"written_off_qty"`
	AlertThreshold decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"alert_threshold"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"unit_price"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMaterial struct {
	Name           string          `json:"name" binding:"required"`
	Unit           string          `json:"unit" binding:"required"`
	OnHandQty      decimal.Decimal `json:"on_hand_qty"`
	AlertThreshold decimal.Decimal `json:"alert_threshold"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}

func (m *Material) Active() bool {
	return utils.DereferencePtr(m.IsActive, true)
}

// WIPFor returns the WIP bucket backing the given destination class.
func (m *Material) WIPFor(class DestinationClass) decimal.Decimal {
	if class == DestinationClassJobber {
		return m.JobberWIP
	}
	return m.OwnUnitWIP
}

// TrackedTotal is conserved by every issue, receipt, write-off and cancellation.
func (m *Material) TrackedTotal() decimal.Decimal {
	return m.OnHandQty.Add(m.OwnUnitWIP).Add(m.JobberWIP).Add(m.ConsumedQty).Add(m.WrittenOffQty)
}

func (m *Material) IsLowStock() bool {
	return m.OnHandQty.LessThanOrEqual(m.AlertThreshold)
}

func CreateMaterial(tx *gorm.DB, input *NewMaterial) (*Material, error) {
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.Unit) == "" {
		return nil, errors.New("material name and unit are required")
	}
	if input.OnHandQty.IsNegative() || input.AlertThreshold.IsNegative() || input.UnitPrice.IsNegative() {
		return nil, errors.New("material quantities must not be negative")
	}
	material := Material{
		Name:           strings.TrimSpace(input.Name),
		Unit:           strings.TrimSpace(input.Unit),
		OnHandQty:      input.OnHandQty,
		AlertThreshold: input.AlertThreshold,
		UnitPrice:      input.UnitPrice,
		IsActive:       utils.NewTrue(),
	}
	if err := tx.Create(&material).Error; err != nil {
		return nil, err
	}
	return &material, nil
}

func GetMaterial(tx *gorm.DB, id int) (*Material, error) {
	var material Material
	err := tx.Where("id = ?", id).First(&material).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &material, nil
}

// LockMaterials loads the given materials with a row lock, keyed by id.
// Ids that do not exist are absent from the result.
func LockMaterials(tx *gorm.DB, ids []int) (map[int]*Material, error) {
	result := make(map[int]*Material, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var materials []*Material
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).Order("id").Find(&materials).Error
	if err != nil {
		return nil, err
	}
	for _, m := range materials {
		result[m.ID] = m
	}
	return result, nil
}

// SaveMaterialBalances persists the counters of m; callers hold the material lock.
func SaveMaterialBalances(tx *gorm.DB, m *Material) error {
	return tx.Model(&Material{}).Where("id = ?", m.ID).Updates(map[string]interface{}{
		"on_hand_qty":     m.OnHandQty,
		"own_unit_wip":    m.OwnUnitWIP,
		"jobber_wip":      m.JobberWIP,
		"consumed_qty":    m.ConsumedQty,
		"written_off_qty": m.WrittenOffQty,
	}).Error
}

func ListActiveMaterialIds(tx *gorm.DB) ([]int, error) {
	var ids []int
	err := tx.Model(&Material{}).Where("is_active = ?", true).Order("id").Pluck("id", &ids).Error
	return ids, err
}

func ListMaterialIds(tx *gorm.DB) ([]int, error) {
	var ids []int
	err := tx.Model(&Material{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

func ListLowStockMaterials(tx *gorm.DB) ([]*Material, error) {
	var materials []*Material
	err := tx.Where("is_active = ? AND on_hand_qty <= alert_threshold", true).Order("name").Find(&materials).Error
	return materials, err
}

// MaterialHistory is an append-only record of every counter mutation.
type MaterialHistory struct {
	ID              int             `gorm:"primary_key" json:"id"`
	MaterialId      int             `gorm:"index;not null" json:"material_id"`
	MovementType    MovementType    `gorm:"size:30;not null" json:"movement_type"`
	ReferenceType   string          `gorm:"size:40;index:idx_material_history_ref" json:"reference_type"`
	ReferenceId     int             `gorm:"index:idx_material_history_ref" json:"reference_id"`
	OnHandDelta     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"on_hand_delta"`
	OwnUnitWIPDelta decimal.Decimal `gorm:"column:own_unit_wip_delta;type:decimal(20,4);default:0" json:"own_unit_wip_delta"`
	JobberWIPDelta  decimal.Decimal `gorm:"column:jobber_wip_delta;type:decimal(20,4);default:0" json:"jobber_wip_delta"`
	ConsumedDelta   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"consumed_delta"`
	WrittenOffDelta decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"written_off_delta"`
	OnHandAfter     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"on_hand_after"`
	OwnUnitWIPAfter decimal.Decimal `gorm:"column:own_unit_wip_after;type:decimal(20,4);default:0" json:"own_unit_wip_after"`
	JobberWIPAfter  decimal.Decimal `gorm:"column:jobber_wip_after;type:decimal(20,4);default:0" json:"jobber_wip_after"`
	Actor           string          `gorm:"size:100" json:"actor"`
	CorrelationId   string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (MaterialHistory) TableName() string {
	return "material_histories"
}

func ListMaterialHistories(tx *gorm.DB, materialId int, limit int) ([]*MaterialHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []*MaterialHistory
	err := tx.Where("material_id = ?", materialId).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
