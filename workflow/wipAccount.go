package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// NewWriteOff moves unresolved WIP into the written-off sink. Without an
// issue record it draws on the direct-issue pool of the destination class.
type NewWriteOff struct {
	IssueRecordId       *int                    `json:"issue_record_id"`
	MaterialId          int                     `json:"material_id" binding:"required"`
	DestinationClass    models.DestinationClass `json:"destination_class"`
	Quantity            decimal.Decimal         `json:"quantity"`
	Reason              string                  `json:"reason" binding:"required"`
	DamagedStockEntryId *int                    `json:"damaged_stock_entry_id"`
}

type WIPSplit struct {
	MaterialId    int             `json:"material_id"`
	OnHandQty     decimal.Decimal `json:"on_hand_qty"`
	OwnUnitWIP    decimal.Decimal `json:"own_unit_wip"`
	JobberWIP     decimal.Decimal `json:"jobber_wip"`
	ConsumedQty   decimal.Decimal `json:"consumed_qty"`
	WrittenOffQty decimal.Decimal `json:"written_off_qty"`
	TrackedTotal  decimal.Decimal `json:"tracked_total"`
}

// OutstandingLine is the WIP still held for one issue, or for the direct-issue
// pool of a class when IssueRecordId is nil.
type OutstandingLine struct {
	IssueRecordId    *int                    `json:"issue_record_id"`
	IssueNumber      string                  `json:"issue_number,omitempty"`
	DestinationClass models.DestinationClass `json:"destination_class"`
	Sent             decimal.Decimal         `json:"sent"`
	Used             decimal.Decimal         `json:"used"`
	WrittenOff       decimal.Decimal         `json:"written_off"`
	Outstanding      decimal.Decimal         `json:"outstanding"`
}

type WIPReconciliation struct {
	MaterialId       int                     `json:"material_id"`
	DestinationClass models.DestinationClass `json:"destination_class"`
	Bucket           decimal.Decimal         `json:"bucket"`
	Outstanding      decimal.Decimal         `json:"outstanding"`
	Difference       decimal.Decimal         `json:"difference"`
}

var destinationClasses = []models.DestinationClass{models.DestinationClassOwnUnit, models.DestinationClassJobber}

func issueOutstanding(tx *gorm.DB, issue *models.IssueRecord, materialId int) (*OutstandingLine, error) {
	received, err := models.CumulativeReceivedUnits(tx, issue.ID, 0)
	if err != nil {
		return nil, err
	}
	writtenOff, err := models.WrittenOffByIssue(tx, issue.ID)
	if err != nil {
		return nil, err
	}
	issueId := issue.ID
	line := &OutstandingLine{
		IssueRecordId:    &issueId,
		IssueNumber:      issue.IssueNumber,
		DestinationClass: issue.DestinationClass,
		Sent:             issue.MaterialTotals()[materialId],
		Used:             materialUsage(issue, received)[materialId],
		WrittenOff:       writtenOff[materialId],
	}
	line.Outstanding = line.Sent.Sub(line.Used).Sub(line.WrittenOff)
	return line, nil
}

func directOutstanding(tx *gorm.DB, materialId int) ([]*OutstandingLine, error) {
	events, err := models.ListDirectOutwardEvents(tx, materialId)
	if err != nil {
		return nil, err
	}
	sent := make(map[models.DestinationClass]decimal.Decimal)
	for _, ev := range events {
		sent[ev.DestinationClass] = sent[ev.DestinationClass].Add(ev.CountedQty())
	}
	var lines []*OutstandingLine
	for _, class := range destinationClasses {
		writtenOff, err := models.WrittenOffDirect(tx, materialId, class)
		if err != nil {
			return nil, err
		}
		if sent[class].IsZero() && writtenOff.IsZero() {
			continue
		}
		lines = append(lines, &OutstandingLine{
			DestinationClass: class,
			Sent:             sent[class],
			Used:             decimal.Zero,
			WrittenOff:       writtenOff,
			Outstanding:      sent[class].Sub(writtenOff),
		})
	}
	return lines, nil
}

func outstandingForMaterial(tx *gorm.DB, materialId int) ([]*OutstandingLine, error) {
	issueIds, err := models.ListIssueIdsForMaterial(tx, materialId)
	if err != nil {
		return nil, err
	}
	var lines []*OutstandingLine
	for _, id := range issueIds {
		issue, err := models.GetIssueRecord(tx, id)
		if err != nil {
			return nil, err
		}
		line, err := issueOutstanding(tx, issue, materialId)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	direct, err := directOutstanding(tx, materialId)
	if err != nil {
		return nil, err
	}
	return append(lines, direct...), nil
}

// WriteOffVariance releases damaged or short quantity from WIP. It is bounded
// by what the issue (or the direct pool) still holds.
func (e *StockEngine) WriteOffVariance(ctx context.Context, input *NewWriteOff) (*models.WIPWriteOff, error) {
	if !input.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: write-off quantity %s", ErrInvalidQuantity, input.Quantity.String())
	}
	if strings.TrimSpace(input.Reason) == "" {
		return nil, ErrReasonRequired
	}
	if input.IssueRecordId == nil && input.DamagedStockEntryId != nil {
		return nil, fmt.Errorf("%w: a damaged entry write-off needs its issue record", ErrInvalidQuantity)
	}
	ctx, span := e.startSpan(ctx, "wip.writeOff", attribute.Int("material_id", input.MaterialId))
	var writeOff *models.WIPWriteOff
	err := e.withMaterials(ctx, models.AnomalySourcePosting, []int{input.MaterialId}, func(s *txScope, materials map[int]*models.Material) error {
		m, ok := materials[input.MaterialId]
		if !ok {
			return fmt.Errorf("%w: material_id=%d", ErrUnknownMaterial, input.MaterialId)
		}
		class := input.DestinationClass
		var outstanding decimal.Decimal
		if input.IssueRecordId != nil {
			issue, err := models.GetIssueRecord(s.tx, *input.IssueRecordId)
			if err != nil {
				return err
			}
			if issue.Status == models.IssueStatusCancelled {
				return fmt.Errorf("%w: issue_id=%d", ErrIssueCancelled, issue.ID)
			}
			if class == "" {
				class = issue.DestinationClass
			}
			if class != issue.DestinationClass {
				return fmt.Errorf("%w: issue_id=%d is %s", ErrInvalidDestination, issue.ID, issue.DestinationClass)
			}
			if _, ok := issue.MaterialTotals()[m.ID]; !ok {
				return fmt.Errorf("%w: material_id=%d is not part of issue_id=%d", ErrUnknownMaterial, m.ID, issue.ID)
			}
			line, err := issueOutstanding(s.tx, issue, m.ID)
			if err != nil {
				return err
			}
			outstanding = line.Outstanding
			if input.DamagedStockEntryId != nil {
				if err := checkDamagedEntryForWriteOff(s.tx, *input.DamagedStockEntryId, issue.ID, m.ID, input.Quantity); err != nil {
					return err
				}
			}
		} else {
			if !class.IsValid() {
				return fmt.Errorf("%w: %q", ErrInvalidDestination, class)
			}
			direct, err := directOutstanding(s.tx, m.ID)
			if err != nil {
				return err
			}
			for _, line := range direct {
				if line.DestinationClass == class {
					outstanding = line.Outstanding
				}
			}
		}
		if input.Quantity.GreaterThan(outstanding) {
			return fmt.Errorf("%w: material_id=%d requested=%s outstanding=%s",
				ErrWriteOffExceedsOutstanding, m.ID, input.Quantity.String(), outstanding.String())
		}

		writeOff = &models.WIPWriteOff{
			IssueRecordId:       input.IssueRecordId,
			MaterialId:          m.ID,
			DestinationClass:    class,
			Quantity:            input.Quantity,
			Reason:              strings.TrimSpace(input.Reason),
			DamagedStockEntryId: input.DamagedStockEntryId,
			Actor:               s.actor,
			CorrelationId:       s.correlationId,
		}
		if err := s.tx.Create(writeOff).Error; err != nil {
			return err
		}
		change := balanceChange{
			Movement:      models.MovementTypeWriteOff,
			ReferenceType: models.ReferenceTypeWIPWriteOff,
			ReferenceId:   writeOff.ID,
			WrittenOff:    input.Quantity,
		}.withBucket(class, input.Quantity.Neg())
		return s.applyBalanceChange(m, change)
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	e.Logger.WithFields(logrus.Fields{
		"write_off_id":      writeOff.ID,
		"material_id":       writeOff.MaterialId,
		"destination_class": writeOff.DestinationClass,
		"quantity":          writeOff.Quantity.String(),
		"actor":             writeOff.Actor,
	}).Info("wip.written_off")
	return writeOff, nil
}

func checkDamagedEntryForWriteOff(tx *gorm.DB, entryId int, issueId int, materialId int, qty decimal.Decimal) error {
	entry, err := models.GetDamagedStockEntry(tx, entryId)
	if err != nil {
		return err
	}
	if entry.IssueRecordId != issueId || entry.MaterialId != materialId {
		return fmt.Errorf("%w: damaged_entry_id=%d belongs to issue_id=%d material_id=%d",
			ErrInvalidQuantity, entryId, entry.IssueRecordId, entry.MaterialId)
	}
	if entry.Status != models.DamageStatusApproved {
		return fmt.Errorf("%w: damaged_entry_id=%d status=%s", ErrDamageNotApproved, entryId, entry.Status)
	}
	count, err := models.CountWriteOffsForDamagedEntry(tx, entryId)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: damaged_entry_id=%d", ErrDamageAlreadyWrittenOff, entryId)
	}
	if qty.GreaterThan(entry.DamagedQty) {
		return fmt.Errorf("%w: damaged_entry_id=%d damaged=%s requested=%s",
			ErrWriteOffExceedsOutstanding, entryId, entry.DamagedQty.String(), qty.String())
	}
	return nil
}

func (e *StockEngine) WIPSplit(ctx context.Context, materialId int) (*WIPSplit, error) {
	m, err := models.GetMaterial(e.DB.WithContext(ctx), materialId)
	if err != nil {
		return nil, err
	}
	return &WIPSplit{
		MaterialId:    m.ID,
		OnHandQty:     m.OnHandQty,
		OwnUnitWIP:    m.OwnUnitWIP,
		JobberWIP:     m.JobberWIP,
		ConsumedQty:   m.ConsumedQty,
		WrittenOffQty: m.WrittenOffQty,
		TrackedTotal:  m.TrackedTotal(),
	}, nil
}

// OutstandingWIP lists the WIP held per open issue plus the direct-issue pools.
func (e *StockEngine) OutstandingWIP(ctx context.Context, materialId int) ([]*OutstandingLine, error) {
	db := e.DB.WithContext(ctx)
	if _, err := models.GetMaterial(db, materialId); err != nil {
		return nil, err
	}
	return outstandingForMaterial(db, materialId)
}

// ReconcileWIP compares each WIP bucket with the sum of what its issues still
// hold and records a WIPMismatch anomaly for every difference.
func (e *StockEngine) ReconcileWIP(ctx context.Context, materialId *int) ([]*WIPReconciliation, error) {
	var ids []int
	if materialId != nil {
		if _, err := models.GetMaterial(e.DB.WithContext(ctx), *materialId); err != nil {
			return nil, err
		}
		ids = []int{*materialId}
	} else {
		var err error
		ids, err = models.ListMaterialIds(e.DB.WithContext(ctx))
		if err != nil {
			return nil, err
		}
	}
	ctx, span := e.startSpan(ctx, "wip.reconcile", attribute.Int("materials", len(ids)))
	var results []*WIPReconciliation
	for _, id := range ids {
		err := e.withMaterials(ctx, models.AnomalySourceReconciliation, []int{id}, func(s *txScope, materials map[int]*models.Material) error {
			m, ok := materials[id]
			if !ok {
				return nil
			}
			lines, err := outstandingForMaterial(s.tx, id)
			if err != nil {
				return err
			}
			held := make(map[models.DestinationClass]decimal.Decimal)
			for _, line := range lines {
				held[line.DestinationClass] = held[line.DestinationClass].Add(line.Outstanding)
			}
			for _, class := range destinationClasses {
				r := &WIPReconciliation{
					MaterialId:       id,
					DestinationClass: class,
					Bucket:           m.WIPFor(class),
					Outstanding:      held[class],
				}
				r.Difference = r.Bucket.Sub(r.Outstanding)
				results = append(results, r)
				if r.Difference.IsZero() {
					continue
				}
				details := fmt.Sprintf("%s WIP bucket %s differs from outstanding %s", class, r.Bucket.String(), r.Outstanding.String())
				if err := s.recordAnomaly(e.Logger, id, e.today(), models.AnomalyTypeWIPMismatch, string(class), r.Difference, details); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			endSpan(span, err)
			return results, fmt.Errorf("reconcile material_id=%d: %w", id, err)
		}
	}
	endSpan(span, nil)
	e.Logger.WithFields(logrus.Fields{
		"materials": len(ids),
		"actor":     utils.ActorOrSystem(ctx),
	}).Info("wip.reconciled")
	return results, nil
}

func (e *StockEngine) LowStockMaterials(ctx context.Context) ([]*models.Material, error) {
	return models.ListLowStockMaterials(e.DB.WithContext(ctx))
}

func (e *StockEngine) CreateMaterial(ctx context.Context, input *models.NewMaterial) (*models.Material, error) {
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.Unit) == "" {
		return nil, fmt.Errorf("%w: name and unit are required", ErrInvalidMaterial)
	}
	if input.OnHandQty.IsNegative() || input.AlertThreshold.IsNegative() || input.UnitPrice.IsNegative() {
		return nil, fmt.Errorf("%w: quantities must not be negative", ErrInvalidMaterial)
	}
	m, err := models.CreateMaterial(e.DB.WithContext(ctx), input)
	if err != nil {
		return nil, err
	}
	e.Logger.WithFields(logrus.Fields{
		"material_id": m.ID,
		"name":        m.Name,
		"on_hand_qty": m.OnHandQty.String(),
	}).Info("material.created")
	return m, nil
}

func (e *StockEngine) GetMaterial(ctx context.Context, materialId int) (*models.Material, error) {
	return models.GetMaterial(e.DB.WithContext(ctx), materialId)
}

// MaterialHistories returns the most recent counter mutations of a material, newest first.
func (e *StockEngine) MaterialHistories(ctx context.Context, materialId int, limit int) ([]*models.MaterialHistory, error) {
	db := e.DB.WithContext(ctx)
	if _, err := models.GetMaterial(db, materialId); err != nil {
		return nil, err
	}
	return models.ListMaterialHistories(db, materialId, limit)
}
