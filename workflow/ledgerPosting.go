package workflow

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// eventTotals sums counted quantities per day key ("2006-01-02").
type eventTotals struct {
	days    map[string]time.Time
	inward  map[string]decimal.Decimal
	outward map[string]decimal.Decimal
	sumIn   decimal.Decimal
	sumOut  decimal.Decimal
}

func newEventTotals() *eventTotals {
	return &eventTotals{
		days:    make(map[string]time.Time),
		inward:  make(map[string]decimal.Decimal),
		outward: make(map[string]decimal.Decimal),
	}
}

func (t *eventTotals) addDay(day time.Time) string {
	key := utils.FormatDay(day)
	if _, ok := t.days[key]; !ok {
		t.days[key] = utils.DayKey(day, time.UTC)
	}
	return key
}

func (t *eventTotals) addInward(events []*models.InwardReceiptEvent) {
	for _, ev := range events {
		key := t.addDay(ev.StockDate)
		qty := ev.CountedQty()
		t.inward[key] = t.inward[key].Add(qty)
		t.sumIn = t.sumIn.Add(qty)
	}
}

func (t *eventTotals) addOutward(events []*models.OutwardIssueEvent) {
	for _, ev := range events {
		key := t.addDay(ev.StockDate)
		qty := ev.CountedQty()
		t.outward[key] = t.outward[key].Add(qty)
		t.sumOut = t.sumOut.Add(qty)
	}
}

// loadEventTotals reads the counted events of one material within filter.
func loadEventTotals(s *txScope, filter models.MaterialEventFilter) (*eventTotals, error) {
	ins, err := models.ListInwardEvents(s.tx, filter)
	if err != nil {
		return nil, err
	}
	outs, err := models.ListOutwardEvents(s.tx, filter)
	if err != nil {
		return nil, err
	}
	totals := newEventTotals()
	totals.addInward(ins)
	totals.addOutward(outs)
	return totals, nil
}

// bootstrapOpening reconstructs the on-hand quantity at the start of day by
// rolling back every counted event on or after that day from the live balance.
// The result may be negative when history is inconsistent.
func bootstrapOpening(s *txScope, m *models.Material, day time.Time) (decimal.Decimal, error) {
	totals, err := loadEventTotals(s, models.MaterialEventFilter{MaterialId: m.ID, From: day})
	if err != nil {
		return decimal.Zero, err
	}
	return m.OnHandQty.Sub(totals.sumIn).Add(totals.sumOut), nil
}

// resolveOpening is the predecessor's closing, or the clamped bootstrap when
// the material has no earlier entry.
func (e *StockEngine) resolveOpening(s *txScope, m *models.Material, day time.Time) (decimal.Decimal, error) {
	prev, err := models.GetPreviousLedgerEntry(s.tx, m.ID, day)
	if err != nil {
		return decimal.Zero, err
	}
	if prev != nil {
		return prev.ClosingStock, nil
	}
	raw, err := bootstrapOpening(s, m, day)
	if err != nil {
		return decimal.Zero, err
	}
	return e.clamp(s, m.ID, day, raw, "bootstrap opening")
}

// clamp returns max(0, raw) and records a NegativeClamp anomaly when it clamps.
func (e *StockEngine) clamp(s *txScope, materialId int, day time.Time, raw decimal.Decimal, what string) (decimal.Decimal, error) {
	value, clamped := utils.MaxZero(raw)
	if !clamped {
		return value, nil
	}
	details := fmt.Sprintf("%s of %s clamped to 0", what, raw.String())
	if err := s.recordAnomaly(e.Logger, materialId, day, models.AnomalyTypeNegativeClamp, "", raw, details); err != nil {
		return decimal.Zero, err
	}
	return value, nil
}

// postLedgerMovement adds an accepted movement to the day's entry. Movements
// dated before an existing later entry are backdated and trigger a recompute
// of the whole material instead.
func (e *StockEngine) postLedgerMovement(s *txScope, m *models.Material, day time.Time, inward decimal.Decimal, outward decimal.Decimal) error {
	later, err := models.HasLedgerEntryAfter(s.tx, m.ID, day)
	if err != nil {
		return err
	}
	if later {
		e.Logger.WithFields(logrus.Fields{
			"material_id": m.ID,
			"stock_date":  utils.FormatDay(day),
		}).Info("ledger.posting.backdated")
		_, err := e.recomputeMaterial(s, m)
		return err
	}

	entry, err := models.GetLedgerEntry(s.tx, m.ID, day)
	if err != nil {
		return err
	}
	if entry == nil {
		opening, err := e.resolveOpening(s, m, day)
		if err != nil {
			return err
		}
		closing, err := e.clamp(s, m.ID, day, opening.Add(inward).Sub(outward), "closing")
		if err != nil {
			return err
		}
		return models.UpsertLedgerEntry(s.tx, &models.LedgerEntry{
			MaterialId:   m.ID,
			EntryDate:    day,
			OpeningStock: opening,
			InwardQty:    inward,
			OutwardQty:   outward,
			ClosingStock: closing,
			Unit:         m.Unit,
		})
	}

	entry.InwardQty = entry.InwardQty.Add(inward)
	entry.OutwardQty = entry.OutwardQty.Add(outward)
	if entry.InwardQty.IsNegative() || entry.OutwardQty.IsNegative() {
		// The entry no longer reflects its events; rebuild from the feeds.
		_, err := e.recomputeMaterial(s, m)
		return err
	}
	entry.ClosingStock, err = e.clamp(s, m.ID, day, entry.OpeningStock.Add(entry.InwardQty).Sub(entry.OutwardQty), "closing")
	if err != nil {
		return err
	}
	return models.SaveLedgerMovement(s.tx, entry)
}
