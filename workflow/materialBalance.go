package workflow

import (
	"fmt"

	"github.com/mmdatafocus/packing_backend/models"
	"github.com/shopspring/decimal"
)

// balanceChange is a signed delta over the five material counters.
type balanceChange struct {
	Movement      models.MovementType
	ReferenceType string
	ReferenceId   int
	OnHand        decimal.Decimal
	OwnUnitWIP    decimal.Decimal
	JobberWIP     decimal.Decimal
	Consumed      decimal.Decimal
	WrittenOff    decimal.Decimal
}

// withBucket adds qty to the WIP bucket of class.
func (c balanceChange) withBucket(class models.DestinationClass, qty decimal.Decimal) balanceChange {
	if class == models.DestinationClassJobber {
		c.JobberWIP = c.JobberWIP.Add(qty)
	} else {
		c.OwnUnitWIP = c.OwnUnitWIP.Add(qty)
	}
	return c
}

// applyBalanceChange updates m in place, persists it and appends a history row.
// It refuses to take on-hand or any WIP bucket below zero.
func (s *txScope) applyBalanceChange(m *models.Material, c balanceChange) error {
	next := *m
	next.OnHandQty = m.OnHandQty.Add(c.OnHand)
	next.OwnUnitWIP = m.OwnUnitWIP.Add(c.OwnUnitWIP)
	next.JobberWIP = m.JobberWIP.Add(c.JobberWIP)
	next.ConsumedQty = m.ConsumedQty.Add(c.Consumed)
	next.WrittenOffQty = m.WrittenOffQty.Add(c.WrittenOff)

	if next.OnHandQty.IsNegative() {
		return fmt.Errorf("%w: material_id=%d on_hand=%s requested=%s",
			ErrInsufficientStock, m.ID, m.OnHandQty.String(), c.OnHand.Neg().String())
	}
	if next.OwnUnitWIP.IsNegative() || next.JobberWIP.IsNegative() {
		return fmt.Errorf("%w: material_id=%d own_unit_wip=%s jobber_wip=%s",
			ErrWIPUnderflow, m.ID, next.OwnUnitWIP.String(), next.JobberWIP.String())
	}
	if next.ConsumedQty.IsNegative() || next.WrittenOffQty.IsNegative() {
		return fmt.Errorf("material_id=%d: consumed or written-off quantity would become negative", m.ID)
	}

	if err := models.SaveMaterialBalances(s.tx, &next); err != nil {
		return err
	}
	history := models.MaterialHistory{
		MaterialId:      m.ID,
		MovementType:    c.Movement,
		ReferenceType:   c.ReferenceType,
		ReferenceId:     c.ReferenceId,
		OnHandDelta:     c.OnHand,
		OwnUnitWIPDelta: c.OwnUnitWIP,
		JobberWIPDelta:  c.JobberWIP,
		ConsumedDelta:   c.Consumed,
		WrittenOffDelta: c.WrittenOff,
		OnHandAfter:     next.OnHandQty,
		OwnUnitWIPAfter: next.OwnUnitWIP,
		JobberWIPAfter:  next.JobberWIP,
		Actor:           s.actor,
		CorrelationId:   s.correlationId,
	}
	if err := s.tx.Create(&history).Error; err != nil {
		return err
	}
	*m = next
	return nil
}
