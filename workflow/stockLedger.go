package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type CaptureResult struct {
	Date      time.Time `json:"date"`
	Materials int       `json:"materials"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Anomalies int       `json:"anomalies"`
}

type RecomputeResult struct {
	MaterialId   int             `json:"material_id"`
	Days         int             `json:"days"`
	Anomalies    int             `json:"anomalies"`
	FinalClosing decimal.Decimal `json:"final_closing"`
	LiveOnHand   decimal.Decimal `json:"live_on_hand"`
}

// Drift is non-zero only when clamping broke the chain back to the live balance.
func (r RecomputeResult) Drift() decimal.Decimal {
	return r.LiveOnHand.Sub(r.FinalClosing)
}

type RecomputeSummary struct {
	RunId        string             `json:"run_id"`
	Materials    []*RecomputeResult `json:"materials"`
	OrphanEvents int                `json:"orphan_events"`
	Anomalies    int                `json:"anomalies"`
}

// RangeReport summarizes [Start, End) for one material; Closing is the live on-hand.
type RangeReport struct {
	MaterialId     int             `json:"material_id"`
	MaterialName   string          `json:"material_name"`
	Unit           string          `json:"unit"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
	Opening        decimal.Decimal `json:"opening"`
	Inward         decimal.Decimal `json:"inward"`
	Outward        decimal.Decimal `json:"outward"`
	Closing        decimal.Decimal `json:"closing"`
	OpeningSource  string          `json:"opening_source"`
	OpeningClamped bool            `json:"opening_clamped"`
}

const (
	OpeningSourceLedger    = "ledger"
	OpeningSourceBootstrap = "bootstrap"
)

// CaptureOpening creates the day's entry for every active material that has
// none, and refreshes only the opening of entries that already exist.
func (e *StockEngine) CaptureOpening(ctx context.Context, date time.Time) (*CaptureResult, error) {
	day := e.dayOf(date)
	ctx, span := e.startSpan(ctx, "ledger.captureOpening", attribute.String("date", utils.FormatDay(day)))
	ids, err := models.ListActiveMaterialIds(e.DB.WithContext(ctx))
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	result := &CaptureResult{Date: day, Materials: len(ids)}
	var errs []error
	for _, id := range ids {
		err := e.withMaterials(ctx, models.AnomalySourceCapture, []int{id}, func(s *txScope, materials map[int]*models.Material) error {
			m, ok := materials[id]
			if !ok {
				return nil
			}
			entry, err := models.GetLedgerEntry(s.tx, id, day)
			if err != nil {
				return err
			}
			opening, err := e.resolveOpening(s, m, day)
			if err != nil {
				return err
			}
			result.Anomalies += len(s.anomalies)
			if entry != nil {
				result.Updated++
				return models.UpdateLedgerOpening(s.tx, entry.ID, opening)
			}
			result.Created++
			return models.UpsertLedgerEntry(s.tx, &models.LedgerEntry{
				MaterialId:   id,
				EntryDate:    day,
				OpeningStock: opening,
				ClosingStock: opening,
				Unit:         m.Unit,
			})
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("material_id=%d: %w", id, err))
		}
	}
	err = errors.Join(errs...)
	e.Logger.WithFields(logrus.Fields{
		"date":      utils.FormatDay(day),
		"materials": result.Materials,
		"created":   result.Created,
		"updated":   result.Updated,
		"anomalies": result.Anomalies,
		"failed":    len(errs),
	}).Info("ledger.capture.opening")
	endSpan(span, err)
	return result, err
}

// CaptureClosing writes the live on-hand quantity as the day's closing for
// every material. Only the closing field of an existing entry is written.
func (e *StockEngine) CaptureClosing(ctx context.Context, date time.Time) (*CaptureResult, error) {
	day := e.dayOf(date)
	ctx, span := e.startSpan(ctx, "ledger.captureClosing", attribute.String("date", utils.FormatDay(day)))
	ids, err := models.ListMaterialIds(e.DB.WithContext(ctx))
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	result := &CaptureResult{Date: day, Materials: len(ids)}
	var errs []error
	for _, id := range ids {
		err := e.withMaterials(ctx, models.AnomalySourceCapture, []int{id}, func(s *txScope, materials map[int]*models.Material) error {
			m, ok := materials[id]
			if !ok {
				return nil
			}
			entry, err := models.GetLedgerEntry(s.tx, id, day)
			if err != nil {
				return err
			}
			if entry != nil {
				result.Updated++
				return models.UpdateLedgerClosing(s.tx, entry.ID, m.OnHandQty)
			}
			opening, err := e.resolveOpening(s, m, day)
			if err != nil {
				return err
			}
			totals, err := loadEventTotals(s, models.MaterialEventFilter{MaterialId: id, From: day, To: day.AddDate(0, 0, 1)})
			if err != nil {
				return err
			}
			result.Anomalies += len(s.anomalies)
			result.Created++
			return models.UpsertLedgerEntry(s.tx, &models.LedgerEntry{
				MaterialId:   id,
				EntryDate:    day,
				OpeningStock: opening,
				InwardQty:    totals.sumIn,
				OutwardQty:   totals.sumOut,
				ClosingStock: m.OnHandQty,
				Unit:         m.Unit,
			})
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("material_id=%d: %w", id, err))
		}
	}
	err = errors.Join(errs...)
	e.Logger.WithFields(logrus.Fields{
		"date":      utils.FormatDay(day),
		"materials": result.Materials,
		"created":   result.Created,
		"updated":   result.Updated,
		"failed":    len(errs),
	}).Info("ledger.capture.closing")
	endSpan(span, err)
	return result, err
}

// RecomputeHistory replays both event feeds for one material, or all
// materials when materialId is nil, and rewrites every ledger row. It is the
// single supported repair path and is safe to run repeatedly.
func (e *StockEngine) RecomputeHistory(ctx context.Context, materialId *int) (*RecomputeSummary, error) {
	runId := uuid.NewString()
	ctx = utils.SetRunIdInContext(ctx, runId)
	ctx, span := e.startSpan(ctx, "ledger.recomputeHistory", attribute.String("run_id", runId))

	var ids []int
	if materialId != nil {
		if _, err := models.GetMaterial(e.DB.WithContext(ctx), *materialId); err != nil {
			endSpan(span, err)
			return nil, err
		}
		ids = []int{*materialId}
	} else {
		var err error
		ids, err = models.ListMaterialIds(e.DB.WithContext(ctx))
		if err != nil {
			endSpan(span, err)
			return nil, err
		}
	}

	e.Logger.WithFields(logrus.Fields{
		"run_id":    runId,
		"materials": len(ids),
		"all":       materialId == nil,
	}).Info("ledger.recompute.start")

	summary := &RecomputeSummary{RunId: runId}
	for _, id := range ids {
		var result *RecomputeResult
		err := e.withMaterials(ctx, models.AnomalySourceRecompute, []int{id}, func(s *txScope, materials map[int]*models.Material) error {
			m, ok := materials[id]
			if !ok {
				return nil
			}
			var err error
			result, err = e.recomputeMaterial(s, m)
			return err
		})
		if err != nil {
			endSpan(span, err)
			return summary, fmt.Errorf("recompute material_id=%d: %w", id, err)
		}
		if result != nil {
			summary.Materials = append(summary.Materials, result)
			summary.Anomalies += result.Anomalies
		}
	}

	if materialId == nil {
		orphans, anomalies, err := e.scanOrphanEvents(ctx)
		if err != nil {
			endSpan(span, err)
			return summary, err
		}
		summary.OrphanEvents = orphans
		summary.Anomalies += anomalies
	}

	e.Logger.WithFields(logrus.Fields{
		"run_id":        runId,
		"materials":     len(summary.Materials),
		"anomalies":     summary.Anomalies,
		"orphan_events": summary.OrphanEvents,
	}).Info("ledger.recompute.done")
	endSpan(span, nil)
	return summary, nil
}

// recomputeMaterial rewrites the ledger of m from its events. The caller
// holds the material lock for the duration.
func (e *StockEngine) recomputeMaterial(s *txScope, m *models.Material) (*RecomputeResult, error) {
	before := len(s.anomalies)
	totals, err := loadEventTotals(s, models.MaterialEventFilter{MaterialId: m.ID})
	if err != nil {
		return nil, err
	}
	existing, err := models.ListLedgerEntries(s.tx, m.ID, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	for _, entry := range existing {
		totals.addDay(entry.EntryDate)
	}

	keys := make([]string, 0, len(totals.days))
	for key := range totals.days {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := &RecomputeResult{MaterialId: m.ID, Days: len(keys), LiveOnHand: m.OnHandQty}
	if len(keys) == 0 {
		result.FinalClosing = m.OnHandQty
		return result, nil
	}

	opening, err := e.clamp(s, m.ID, totals.days[keys[0]], m.OnHandQty.Sub(totals.sumIn).Add(totals.sumOut), "bootstrap opening")
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		day := totals.days[key]
		inward := totals.inward[key]
		outward := totals.outward[key]
		closing, err := e.clamp(s, m.ID, day, opening.Add(inward).Sub(outward), "closing")
		if err != nil {
			return nil, err
		}
		err = models.UpsertLedgerEntry(s.tx, &models.LedgerEntry{
			MaterialId:   m.ID,
			EntryDate:    day,
			OpeningStock: opening,
			InwardQty:    inward,
			OutwardQty:   outward,
			ClosingStock: closing,
			Unit:         m.Unit,
		})
		if err != nil {
			return nil, err
		}
		opening = closing
	}
	result.FinalClosing = opening
	result.Anomalies = len(s.anomalies) - before

	fields := logrus.Fields{
		"material_id":   m.ID,
		"run_id":        s.runId,
		"days":          result.Days,
		"final_closing": result.FinalClosing.String(),
		"on_hand":       m.OnHandQty.String(),
	}
	if !result.Drift().IsZero() {
		e.Logger.WithFields(fields).Warn("ledger.recompute.drift")
	} else {
		e.Logger.WithFields(fields).Debug("ledger.recompute.material")
	}
	return result, nil
}

// scanOrphanEvents records an UnknownMaterial anomaly for every event whose
// material does not exist.
func (e *StockEngine) scanOrphanEvents(ctx context.Context) (int, int, error) {
	var orphans, anomalies int
	err := e.withTx(ctx, models.AnomalySourceRecompute, func(s *txScope) error {
		ins, err := models.ListOrphanInwardEvents(s.tx)
		if err != nil {
			return err
		}
		outs, err := models.ListOrphanOutwardEvents(s.tx)
		if err != nil {
			return err
		}
		for _, ev := range ins {
			details := fmt.Sprintf("inward event %s references unknown material", ev.SourceEventId)
			if err := s.recordAnomaly(e.Logger, ev.MaterialId, ev.StockDate, models.AnomalyTypeUnknownMaterial, ev.SourceEventId, ev.CountedQty(), details); err != nil {
				return err
			}
		}
		for _, ev := range outs {
			details := fmt.Sprintf("outward event %s references unknown material", ev.SourceEventId)
			if err := s.recordAnomaly(e.Logger, ev.MaterialId, ev.StockDate, models.AnomalyTypeUnknownMaterial, ev.SourceEventId, ev.CountedQty(), details); err != nil {
				return err
			}
		}
		orphans = len(ins) + len(outs)
		anomalies = len(s.anomalies)
		return nil
	})
	return orphans, anomalies, err
}

// ReportRange reports opening, movements and live closing for [start, end).
func (e *StockEngine) ReportRange(ctx context.Context, materialId int, start time.Time, end time.Time) (*RangeReport, error) {
	startDay := e.dayOf(start)
	endDay := e.dayOf(end)
	if endDay.Before(startDay) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidDateRange, utils.FormatDay(endDay), utils.FormatDay(startDay))
	}
	db := e.DB.WithContext(ctx)
	m, err := models.GetMaterial(db, materialId)
	if err != nil {
		return nil, err
	}

	report := &RangeReport{
		MaterialId:   m.ID,
		MaterialName: m.Name,
		Unit:         m.Unit,
		Start:        startDay,
		End:          endDay,
		Closing:      m.OnHandQty,
	}
	s := &txScope{ctx: ctx, tx: db}
	prev, err := models.GetPreviousLedgerEntry(db, m.ID, startDay)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		report.Opening = prev.ClosingStock
		report.OpeningSource = OpeningSourceLedger
	} else {
		raw, err := bootstrapOpening(s, m, startDay)
		if err != nil {
			return nil, err
		}
		report.Opening, report.OpeningClamped = utils.MaxZero(raw)
		report.OpeningSource = OpeningSourceBootstrap
	}

	totals, err := loadEventTotals(s, models.MaterialEventFilter{MaterialId: m.ID, From: startDay, To: endDay})
	if err != nil {
		return nil, err
	}
	report.Inward = totals.sumIn
	report.Outward = totals.sumOut
	return report, nil
}

// LedgerEntries returns the persisted daily rows of a material in [start, end).
func (e *StockEngine) LedgerEntries(ctx context.Context, materialId int, start time.Time, end time.Time) ([]*models.LedgerEntry, error) {
	db := e.DB.WithContext(ctx)
	if _, err := models.GetMaterial(db, materialId); err != nil {
		return nil, err
	}
	var from, to time.Time
	if !start.IsZero() {
		from = e.dayOf(start)
	}
	if !end.IsZero() {
		to = e.dayOf(end)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, ErrInvalidDateRange
	}
	return models.ListLedgerEntries(db, materialId, from, to)
}
