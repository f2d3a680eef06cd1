package models

import (
	"time"

	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
)

type Identifier interface {
	GetId() int
}

// interface for dataloader result
type Data interface {
	Identifier
	GetDefault(int) Data
}

func (m Material) GetId() int {
	return m.ID
}

// GetDefault stands in for an id that no longer resolves, so list views keep
// rendering rows that reference a deleted material.
func (m Material) GetDefault(id int) Data {
	return Material{
		ID:             id,
		Name:           "",
		OnHandQty:      decimal.Zero,
		AlertThreshold: decimal.Zero,
		IsActive:       utils.NewFalse(),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}
