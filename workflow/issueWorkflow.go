package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type NewIssueRecord struct {
	DestinationClass models.DestinationClass `json:"destination_class" binding:"required,destination_class"`
	DestinationName  string                  `json:"destination_name"`
	IssueDate        time.Time               `json:"issue_date"`
	IssuedBy         string                  `json:"issued_by"`
	Products         []NewIssueProduct       `json:"products" binding:"required,min=1,dive"`
}

type NewIssueProduct struct {
	ProductId   int                    `json:"product_id" binding:"required"`
	ProductName string                 `json:"product_name"`
	UnitsIssued decimal.Decimal        `json:"units_issued"`
	Materials   []NewIssueMaterialLine `json:"materials" binding:"required,min=1,dive"`
}

// NewIssueMaterialLine carries either QuantityPerUnit or TotalQuantityIssued;
// a missing value is derived from the other and UnitsIssued.
type NewIssueMaterialLine struct {
	MaterialId          int             `json:"material_id" binding:"required"`
	QuantityPerUnit     decimal.Decimal `json:"quantity_per_unit"`
	TotalQuantityIssued decimal.Decimal `json:"total_quantity_issued"`
}

func newIssueNumber() string {
	return "ISS-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func issueOutwardSourceId(issueId int, materialId int) string {
	return fmt.Sprintf("issue:%d:material:%d", issueId, materialId)
}

// buildIssueRecord validates the input and resolves per-line quantities.
func buildIssueRecord(input *NewIssueRecord) (*models.IssueRecord, error) {
	if !input.DestinationClass.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, input.DestinationClass)
	}
	if len(input.Products) == 0 {
		return nil, fmt.Errorf("%w: issue has no products", ErrInvalidQuantity)
	}
	issue := &models.IssueRecord{
		DestinationClass: input.DestinationClass,
		DestinationName:  strings.TrimSpace(input.DestinationName),
		IssuedBy:         input.IssuedBy,
		Status:           models.IssueStatusNew,
	}
	seenProducts := make(map[int]bool)
	for _, p := range input.Products {
		if seenProducts[p.ProductId] {
			return nil, fmt.Errorf("%w: product_id=%d", ErrDuplicateLine, p.ProductId)
		}
		seenProducts[p.ProductId] = true
		if !p.UnitsIssued.IsPositive() {
			return nil, fmt.Errorf("%w: product_id=%d units_issued=%s", ErrInvalidQuantity, p.ProductId, p.UnitsIssued.String())
		}
		if len(p.Materials) == 0 {
			return nil, fmt.Errorf("%w: product_id=%d has no materials", ErrInvalidQuantity, p.ProductId)
		}
		product := &models.IssueProduct{
			ProductId:   p.ProductId,
			ProductName: strings.TrimSpace(p.ProductName),
			UnitsIssued: p.UnitsIssued,
			State:       models.FulfillmentStateNew,
		}
		seenMaterials := make(map[int]bool)
		for _, l := range p.Materials {
			if seenMaterials[l.MaterialId] {
				return nil, fmt.Errorf("%w: product_id=%d material_id=%d", ErrDuplicateLine, p.ProductId, l.MaterialId)
			}
			seenMaterials[l.MaterialId] = true
			total := l.TotalQuantityIssued
			perUnit := l.QuantityPerUnit
			if total.IsZero() {
				total = perUnit.Mul(p.UnitsIssued).Round(StorageScale)
			} else if perUnit.IsZero() {
				perUnit = total.Div(p.UnitsIssued).Round(StorageScale)
			}
			if !total.IsPositive() || perUnit.IsNegative() {
				return nil, fmt.Errorf("%w: product_id=%d material_id=%d", ErrInvalidQuantity, p.ProductId, l.MaterialId)
			}
			product.Materials = append(product.Materials, &models.IssueMaterialLine{
				MaterialId:          l.MaterialId,
				QuantityPerUnit:     perUnit,
				TotalQuantityIssued: total,
			})
		}
		issue.Products = append(issue.Products, product)
	}
	return issue, nil
}

// CreateIssue sends materials to a destination: on-hand moves into the
// destination class's WIP bucket and an outward event is posted per material.
func (e *StockEngine) CreateIssue(ctx context.Context, input *NewIssueRecord) (*models.IssueRecord, error) {
	issue, err := buildIssueRecord(input)
	if err != nil {
		return nil, err
	}
	if input.IssueDate.IsZero() {
		issue.IssueDate = e.now()
	} else {
		issue.IssueDate = input.IssueDate.UTC()
	}
	issue.StockDate = e.dayOf(issue.IssueDate)
	if issue.IssuedBy == "" {
		issue.IssuedBy = utils.ActorOrSystem(ctx)
	}
	issue.IssueNumber = newIssueNumber()

	ctx, span := e.startSpan(ctx, "issue.create", attribute.String("destination_class", string(issue.DestinationClass)))
	totals := issue.MaterialTotals()
	err = e.withMaterials(ctx, models.AnomalySourcePosting, issue.MaterialIds(), func(s *txScope, materials map[int]*models.Material) error {
		for _, id := range issue.MaterialIds() {
			m, ok := materials[id]
			if !ok || !m.Active() {
				return fmt.Errorf("%w: material_id=%d", ErrUnknownMaterial, id)
			}
			if m.OnHandQty.LessThan(totals[id]) {
				return fmt.Errorf("%w: material_id=%d on_hand=%s requested=%s",
					ErrInsufficientStock, id, m.OnHandQty.String(), totals[id].String())
			}
		}
		if err := models.CreateIssueRecord(s.tx, issue); err != nil {
			return err
		}
		for _, id := range issue.MaterialIds() {
			m := materials[id]
			qty := totals[id]
			change := balanceChange{
				Movement:      models.MovementTypeIssueCreated,
				ReferenceType: models.ReferenceTypeIssueRecord,
				ReferenceId:   issue.ID,
				OnHand:        qty.Neg(),
			}.withBucket(issue.DestinationClass, qty)
			if err := s.applyBalanceChange(m, change); err != nil {
				return err
			}
			issueId := issue.ID
			event := &models.OutwardIssueEvent{
				SourceEventId:    issueOutwardSourceId(issue.ID, id),
				MaterialId:       id,
				Quantity:         qty,
				DestinationClass: issue.DestinationClass,
				IssueRecordId:    &issueId,
				Status:           models.OutwardEventStatusActive,
				EventTime:        issue.IssueDate,
				StockDate:        issue.StockDate,
			}
			if err := s.tx.Create(event).Error; err != nil {
				return err
			}
			if err := e.postLedgerMovement(s, m, issue.StockDate, decimal.Zero, qty); err != nil {
				return err
			}
		}
		return nil
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	e.Logger.WithFields(logrus.Fields{
		"issue_id":          issue.ID,
		"issue_number":      issue.IssueNumber,
		"destination_class": issue.DestinationClass,
		"materials":         len(totals),
	}).Info("issue.created")
	return issue, nil
}

// CancelIssue reverses an issue that has no active receipts: WIP returns to
// on-hand, the outward events shrink to any written-off quantity and affected
// ledgers are rebuilt.
func (e *StockEngine) CancelIssue(ctx context.Context, issueId int, reason string) (*models.IssueRecord, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}
	ids, err := models.GetIssueMaterialIds(e.DB.WithContext(ctx), issueId)
	if err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "issue.cancel", attribute.Int("issue_id", issueId))
	var issue *models.IssueRecord
	err = e.withMaterials(ctx, models.AnomalySourcePosting, ids, func(s *txScope, materials map[int]*models.Material) error {
		var err error
		issue, err = models.GetIssueRecord(s.tx, issueId)
		if err != nil {
			return err
		}
		if issue.Status == models.IssueStatusCancelled {
			return ErrIssueCancelled
		}
		active, err := models.CountActiveReceipts(s.tx, issueId)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: issue_id=%d receipts=%d", ErrIssueHasReceipts, issueId, active)
		}
		writtenOff, err := models.WrittenOffByIssue(s.tx, issueId)
		if err != nil {
			return err
		}
		for id, qty := range issue.MaterialTotals() {
			m, ok := materials[id]
			if !ok {
				return fmt.Errorf("%w: material_id=%d", ErrUnknownMaterial, id)
			}
			back := qty.Sub(writtenOff[id])
			if !back.IsPositive() {
				continue
			}
			change := balanceChange{
				Movement:      models.MovementTypeIssueCancelled,
				ReferenceType: models.ReferenceTypeIssueRecord,
				ReferenceId:   issue.ID,
				OnHand:        back,
			}.withBucket(issue.DestinationClass, back.Neg())
			if err := s.applyBalanceChange(m, change); err != nil {
				return err
			}
		}
		if err := cancelIssueOutwardEvents(s, issue, writtenOff); err != nil {
			return err
		}
		now := e.now()
		issue.Status = models.IssueStatusCancelled
		issue.CancelledBy = utils.ActorOrSystem(ctx)
		issue.CancelledAt = &now
		issue.CancelReason = strings.TrimSpace(reason)
		err = s.tx.Model(&models.IssueRecord{}).Where("id = ?", issueId).Updates(map[string]interface{}{
			"status":        issue.Status,
			"cancelled_by":  issue.CancelledBy,
			"cancelled_at":  now,
			"cancel_reason": issue.CancelReason,
		}).Error
		if err != nil {
			return err
		}
		for _, id := range ids {
			if m, ok := materials[id]; ok {
				if _, err := e.recomputeMaterial(s, m); err != nil {
					return err
				}
			}
		}
		return nil
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	e.Logger.WithFields(logrus.Fields{
		"issue_id":     issue.ID,
		"issue_number": issue.IssueNumber,
		"actor":        issue.CancelledBy,
	}).Info("issue.cancelled")
	return issue, nil
}

// cancelIssueOutwardEvents stops the issue's outward events from counting.
// Written-off quantity stays out of the store, so a material with a write-off
// keeps its event active at the written-off amount.
func cancelIssueOutwardEvents(s *txScope, issue *models.IssueRecord, writtenOff map[int]decimal.Decimal) error {
	for id, qty := range issue.MaterialTotals() {
		kept := decimal.Min(writtenOff[id], qty)
		q := s.tx.Model(&models.OutwardIssueEvent{}).
			Where("source_event_id = ?", issueOutwardSourceId(issue.ID, id))
		var err error
		if kept.IsPositive() {
			err = q.Update("quantity", kept).Error
		} else {
			err = q.Update("status", models.OutwardEventStatusCancelled).Error
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *StockEngine) GetIssue(ctx context.Context, issueId int) (*models.IssueRecord, error) {
	return models.GetIssueRecord(e.DB.WithContext(ctx), issueId)
}
