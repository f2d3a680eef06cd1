package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type NewReceipt struct {
	IssueRecordId int              `json:"issue_record_id"`
	ReceivedBy    string           `json:"received_by"`
	ReceivedDate  time.Time        `json:"received_date"`
	Lines         []NewReceiptLine `json:"lines" binding:"required,min=1,dive"`
	Damaged       []NewDamagedLine `json:"damaged" binding:"dive"`
}

// NewReceiptLine is the number of finished units returned for one product of the issue.
type NewReceiptLine struct {
	ProductId     int             `json:"product_id" binding:"required"`
	ReceivedUnits decimal.Decimal `json:"received_units"`
}

type NewDamagedLine struct {
	MaterialId int             `json:"material_id" binding:"required"`
	DamagedQty decimal.Decimal `json:"damaged_qty"`
	Note       string          `json:"note"`
}

type ProductFulfillment struct {
	IssueProductId int                     `json:"issue_product_id"`
	ProductId      int                     `json:"product_id"`
	ProductName    string                  `json:"product_name"`
	UnitsIssued    decimal.Decimal         `json:"units_issued"`
	UnitsReceived  decimal.Decimal         `json:"units_received"`
	Pending        decimal.Decimal         `json:"pending"`
	State          models.FulfillmentState `json:"state"`
}

// MaterialFulfillment is shown at display precision; Used + Remaining == Sent.
type MaterialFulfillment struct {
	MaterialId int             `json:"material_id"`
	Sent       decimal.Decimal `json:"sent"`
	Used       decimal.Decimal `json:"used"`
	Remaining  decimal.Decimal `json:"remaining"`
	Damaged    decimal.Decimal `json:"damaged"`
	WrittenOff decimal.Decimal `json:"written_off"`
}

type IssueFulfillment struct {
	IssueRecordId    int                     `json:"issue_record_id"`
	IssueNumber      string                  `json:"issue_number"`
	DestinationClass models.DestinationClass `json:"destination_class"`
	Status           models.IssueStatus      `json:"status"`
	Products         []*ProductFulfillment   `json:"products"`
	Materials        []*MaterialFulfillment  `json:"materials"`
}

type ReceiptResult struct {
	Receipt     *models.ReceiptRecord       `json:"receipt"`
	Damaged     []*models.DamagedStockEntry `json:"damaged"`
	Fulfillment *IssueFulfillment           `json:"fulfillment"`
}

func newReceiptNumber() string {
	return "RCP-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func productState(received, issued decimal.Decimal) models.FulfillmentState {
	switch {
	case received.GreaterThanOrEqual(issued):
		return models.FulfillmentStateCompleted
	case received.IsPositive():
		return models.FulfillmentStatePartial
	default:
		return models.FulfillmentStateNew
	}
}

// issueStatusFor derives the issue status from its products' states.
func issueStatusFor(issue *models.IssueRecord, received map[int]decimal.Decimal) models.IssueStatus {
	allCompleted := true
	anyReceived := false
	for _, p := range issue.Products {
		if productState(received[p.ID], p.UnitsIssued) != models.FulfillmentStateCompleted {
			allCompleted = false
		}
		if received[p.ID].IsPositive() {
			anyReceived = true
		}
	}
	switch {
	case allCompleted:
		return models.IssueStatusCompleted
	case anyReceived:
		return models.IssueStatusPartial
	default:
		return models.IssueStatusNew
	}
}

// syncFulfillmentStates persists product states and the issue status for the
// given cumulative received units.
func syncFulfillmentStates(s *txScope, issue *models.IssueRecord, received map[int]decimal.Decimal) error {
	for _, p := range issue.Products {
		state := productState(received[p.ID], p.UnitsIssued)
		if state == p.State {
			continue
		}
		if err := models.UpdateIssueProductState(s.tx, p.ID, state); err != nil {
			return err
		}
		p.State = state
	}
	status := issueStatusFor(issue, received)
	if status == issue.Status {
		return nil
	}
	if err := models.UpdateIssueStatus(s.tx, issue.ID, status); err != nil {
		return err
	}
	issue.Status = status
	return nil
}

// applyUsage moves usage deltas between the issue's WIP bucket and the consumed sink.
func applyUsage(s *txScope, issue *models.IssueRecord, materials map[int]*models.Material, before, after map[int]decimal.Decimal, movement models.MovementType, receiptId int) error {
	for _, id := range issue.MaterialIds() {
		delta := after[id].Sub(before[id])
		if delta.IsZero() {
			continue
		}
		m, ok := materials[id]
		if !ok {
			return fmt.Errorf("%w: material_id=%d", ErrUnknownMaterial, id)
		}
		change := balanceChange{
			Movement:      movement,
			ReferenceType: models.ReferenceTypeReceiptRecord,
			ReferenceId:   receiptId,
			Consumed:      delta,
		}.withBucket(issue.DestinationClass, delta.Neg())
		if err := s.applyBalanceChange(m, change); err != nil {
			return err
		}
	}
	return nil
}

// AcceptReceipt records finished units returned against an issue. Each
// product is checked against its own pending quantity, damaged lines against
// the material's remaining returnable quantity. Material usage is derived from
// cumulative totals and moved from WIP to consumed.
func (e *StockEngine) AcceptReceipt(ctx context.Context, input *NewReceipt) (*ReceiptResult, error) {
	ids, err := models.GetIssueMaterialIds(e.DB.WithContext(ctx), input.IssueRecordId)
	if err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "receipt.accept", attribute.Int("issue_id", input.IssueRecordId))
	result := &ReceiptResult{}
	err = e.withMaterials(ctx, models.AnomalySourcePosting, ids, func(s *txScope, materials map[int]*models.Material) error {
		issue, err := models.GetIssueRecord(s.tx, input.IssueRecordId)
		if err != nil {
			return err
		}
		if issue.Status == models.IssueStatusCancelled {
			return fmt.Errorf("%w: issue_id=%d", ErrIssueCancelled, issue.ID)
		}
		before, err := models.CumulativeReceivedUnits(s.tx, issue.ID, 0)
		if err != nil {
			return err
		}

		byProduct := make(map[int]*models.IssueProduct, len(issue.Products))
		for _, p := range issue.Products {
			byProduct[p.ProductId] = p
		}
		after := make(map[int]decimal.Decimal, len(before))
		for k, v := range before {
			after[k] = v
		}
		var lines []*models.ReceiptProductLine
		total := decimal.Zero
		seen := make(map[int]bool)
		for _, l := range input.Lines {
			p, ok := byProduct[l.ProductId]
			if !ok {
				return fmt.Errorf("%w: product_id=%d", ErrUnknownProduct, l.ProductId)
			}
			if seen[l.ProductId] {
				return fmt.Errorf("%w: product_id=%d", ErrDuplicateLine, l.ProductId)
			}
			seen[l.ProductId] = true
			if l.ReceivedUnits.IsNegative() {
				return fmt.Errorf("%w: product_id=%d received_units=%s", ErrInvalidQuantity, l.ProductId, l.ReceivedUnits.String())
			}
			pending := p.UnitsIssued.Sub(before[p.ID])
			if l.ReceivedUnits.GreaterThan(pending) {
				return fmt.Errorf("%w: product_id=%d received=%s pending=%s",
					ErrOverReceipt, l.ProductId, l.ReceivedUnits.String(), pending.String())
			}
			total = total.Add(l.ReceivedUnits)
			if l.ReceivedUnits.IsZero() {
				continue
			}
			after[p.ID] = after[p.ID].Add(l.ReceivedUnits)
			lines = append(lines, &models.ReceiptProductLine{IssueProductId: p.ID, ReceivedUnits: l.ReceivedUnits})
		}
		if !total.IsPositive() {
			return ErrNonPositiveReceipt
		}

		sent := issue.MaterialTotals()
		damaged := make(map[int]decimal.Decimal)
		for _, d := range input.Damaged {
			if _, ok := sent[d.MaterialId]; !ok {
				return fmt.Errorf("%w: material_id=%d is not part of the issue", ErrUnknownMaterial, d.MaterialId)
			}
			if !d.DamagedQty.IsPositive() {
				return fmt.Errorf("%w: material_id=%d damaged_qty=%s", ErrInvalidQuantity, d.MaterialId, d.DamagedQty.String())
			}
			damaged[d.MaterialId] = damaged[d.MaterialId].Add(d.DamagedQty)
		}
		reserved, err := models.ReservedDamagedQty(s.tx, issue.ID)
		if err != nil {
			return err
		}
		for id, qty := range damaged {
			returnable := sent[id].Sub(reserved[id])
			if qty.GreaterThan(returnable) {
				return fmt.Errorf("%w: material_id=%d damaged=%s returnable=%s",
					ErrOverDamage, id, qty.String(), returnable.String())
			}
		}

		usageBefore := materialUsage(issue, before)
		usageAfter := materialUsage(issue, after)
		writtenOff, err := models.WrittenOffByIssue(s.tx, issue.ID)
		if err != nil {
			return err
		}
		for id, used := range usageAfter {
			if used.Add(writtenOff[id]).GreaterThan(sent[id]) {
				return fmt.Errorf("%w: material_id=%d used=%s written_off=%s sent=%s",
					ErrUsageExceedsWriteOff, id, used.String(), writtenOff[id].String(), sent[id].String())
			}
		}

		receivedAt := input.ReceivedDate
		if receivedAt.IsZero() {
			receivedAt = e.now()
		}
		receipt := &models.ReceiptRecord{
			ReceiptNumber: newReceiptNumber(),
			IssueRecordId: issue.ID,
			ReceivedDate:  receivedAt.UTC(),
			StockDate:     e.dayOf(receivedAt),
			ReceivedBy:    input.ReceivedBy,
			Status:        models.ReceiptStatusActive,
			Lines:         lines,
		}
		if receipt.ReceivedBy == "" {
			receipt.ReceivedBy = s.actor
		}
		if err := models.CreateReceiptRecord(s.tx, receipt); err != nil {
			return err
		}
		result.Receipt = receipt

		now := e.now()
		for _, d := range input.Damaged {
			receiptId := receipt.ID
			entry := &models.DamagedStockEntry{
				IssueRecordId:   issue.ID,
				ReceiptRecordId: &receiptId,
				MaterialId:      d.MaterialId,
				SentQty:         sent[d.MaterialId],
				DamagedQty:      d.DamagedQty,
				Status:          models.DamageStatusPending,
				EnteredBy:       s.actor,
				EnteredAt:       now,
				Note:            strings.TrimSpace(d.Note),
			}
			if err := s.tx.Create(entry).Error; err != nil {
				return err
			}
			result.Damaged = append(result.Damaged, entry)
		}

		if err := applyUsage(s, issue, materials, usageBefore, usageAfter, models.MovementTypeReceiptAccepted, receipt.ID); err != nil {
			return err
		}
		if err := syncFulfillmentStates(s, issue, after); err != nil {
			return err
		}
		result.Fulfillment, err = buildFulfillment(s, issue)
		return err
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	e.Logger.WithFields(logrus.Fields{
		"issue_id":       input.IssueRecordId,
		"receipt_id":     result.Receipt.ID,
		"receipt_number": result.Receipt.ReceiptNumber,
		"status":         result.Fulfillment.Status,
		"damaged_lines":  len(result.Damaged),
	}).Info("receipt.accepted")
	return result, nil
}

// CancelReceipt takes a receipt back: its usage returns to WIP, its pending
// damaged entries are rejected and fulfillment states are recomputed.
func (e *StockEngine) CancelReceipt(ctx context.Context, receiptId int, reason string) (*ReceiptResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}
	db := e.DB.WithContext(ctx)
	receipt, err := models.GetReceiptRecord(db, receiptId)
	if err != nil {
		return nil, err
	}
	ids, err := models.GetIssueMaterialIds(db, receipt.IssueRecordId)
	if err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "receipt.cancel", attribute.Int("receipt_id", receiptId))
	result := &ReceiptResult{}
	err = e.withMaterials(ctx, models.AnomalySourcePosting, ids, func(s *txScope, materials map[int]*models.Material) error {
		receipt, err := models.GetReceiptRecord(s.tx, receiptId)
		if err != nil {
			return err
		}
		if receipt.Status == models.ReceiptStatusCancelled {
			return fmt.Errorf("%w: receipt_id=%d", ErrReceiptCancelled, receiptId)
		}
		entries, err := models.ListDamagedEntriesByReceipt(s.tx, receiptId)
		if err != nil {
			return err
		}
		for _, d := range entries {
			if d.Status == models.DamageStatusApproved {
				return fmt.Errorf("%w: receipt_id=%d damaged_entry_id=%d", ErrReceiptHasApprovedDamage, receiptId, d.ID)
			}
		}
		issue, err := models.GetIssueRecord(s.tx, receipt.IssueRecordId)
		if err != nil {
			return err
		}
		before, err := models.CumulativeReceivedUnits(s.tx, issue.ID, 0)
		if err != nil {
			return err
		}
		after, err := models.CumulativeReceivedUnits(s.tx, issue.ID, receiptId)
		if err != nil {
			return err
		}
		if err := applyUsage(s, issue, materials, materialUsage(issue, before), materialUsage(issue, after), models.MovementTypeReceiptCancelled, receiptId); err != nil {
			return err
		}

		now := e.now()
		for _, d := range entries {
			if d.Status != models.DamageStatusPending {
				continue
			}
			d.Status = models.DamageStatusRejected
			d.ReviewedBy = s.actor
			d.ReviewedAt = &now
			d.Note = strings.TrimSpace(d.Note + " [receipt cancelled]")
			if err := models.UpdateDamagedStockReview(s.tx, d); err != nil {
				return err
			}
		}
		receipt.Status = models.ReceiptStatusCancelled
		receipt.CancelledBy = s.actor
		receipt.CancelledAt = &now
		receipt.CancelReason = strings.TrimSpace(reason)
		err = s.tx.Model(&models.ReceiptRecord{}).Where("id = ?", receiptId).Updates(map[string]interface{}{
			"status":        receipt.Status,
			"cancelled_by":  receipt.CancelledBy,
			"cancelled_at":  now,
			"cancel_reason": receipt.CancelReason,
		}).Error
		if err != nil {
			return err
		}
		if err := syncFulfillmentStates(s, issue, after); err != nil {
			return err
		}
		result.Receipt = receipt
		result.Damaged = entries
		result.Fulfillment, err = buildFulfillment(s, issue)
		return err
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	e.Logger.WithFields(logrus.Fields{
		"receipt_id": receiptId,
		"issue_id":   result.Receipt.IssueRecordId,
		"actor":      result.Receipt.CancelledBy,
	}).Info("receipt.cancelled")
	return result, nil
}

// FulfillmentStatus reports pending units per product and usage per material.
func (e *StockEngine) FulfillmentStatus(ctx context.Context, issueId int) (*IssueFulfillment, error) {
	db := e.DB.WithContext(ctx)
	issue, err := models.GetIssueRecord(db, issueId)
	if err != nil {
		return nil, err
	}
	return buildFulfillment(&txScope{ctx: ctx, tx: db}, issue)
}

func buildFulfillment(s *txScope, issue *models.IssueRecord) (*IssueFulfillment, error) {
	received, err := models.CumulativeReceivedUnits(s.tx, issue.ID, 0)
	if err != nil {
		return nil, err
	}
	reserved, err := models.ReservedDamagedQty(s.tx, issue.ID)
	if err != nil {
		return nil, err
	}
	writtenOff, err := models.WrittenOffByIssue(s.tx, issue.ID)
	if err != nil {
		return nil, err
	}
	result := &IssueFulfillment{
		IssueRecordId:    issue.ID,
		IssueNumber:      issue.IssueNumber,
		DestinationClass: issue.DestinationClass,
		Status:           issue.Status,
	}
	sentByMaterial := make(map[int]decimal.Decimal)
	usedByMaterial := make(map[int]decimal.Decimal)
	for _, p := range issue.Products {
		result.Products = append(result.Products, &ProductFulfillment{
			IssueProductId: p.ID,
			ProductId:      p.ProductId,
			ProductName:    p.ProductName,
			UnitsIssued:    p.UnitsIssued,
			UnitsReceived:  received[p.ID],
			Pending:        p.UnitsIssued.Sub(received[p.ID]),
			State:          productState(received[p.ID], p.UnitsIssued),
		})
		for _, l := range p.Materials {
			a := Allocate(received[p.ID], p.UnitsIssued, l.TotalQuantityIssued)
			sentByMaterial[l.MaterialId] = sentByMaterial[l.MaterialId].Add(a.Sent)
			usedByMaterial[l.MaterialId] = usedByMaterial[l.MaterialId].Add(a.Used)
		}
	}
	ids := make([]int, 0, len(sentByMaterial))
	for id := range sentByMaterial {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		a := Allocation{Sent: sentByMaterial[id], Used: usedByMaterial[id]}
		used, remaining := a.Display()
		result.Materials = append(result.Materials, &MaterialFulfillment{
			MaterialId: id,
			Sent:       a.Sent.Round(DisplayScale),
			Used:       used,
			Remaining:  remaining,
			Damaged:    reserved[id],
			WrittenOff: writtenOff[id],
		})
	}
	return result, nil
}

// ApproveDamage confirms a pending damaged entry so that it can be written off.
func (e *StockEngine) ApproveDamage(ctx context.Context, entryId int, note string) (*models.DamagedStockEntry, error) {
	return e.reviewDamage(ctx, entryId, models.DamageStatusApproved, note)
}

// RejectDamage releases the returnable quantity reserved by a pending entry.
func (e *StockEngine) RejectDamage(ctx context.Context, entryId int, note string) (*models.DamagedStockEntry, error) {
	return e.reviewDamage(ctx, entryId, models.DamageStatusRejected, note)
}

func (e *StockEngine) reviewDamage(ctx context.Context, entryId int, status models.DamageStatus, note string) (*models.DamagedStockEntry, error) {
	entry, err := models.GetDamagedStockEntry(e.DB.WithContext(ctx), entryId)
	if err != nil {
		return nil, err
	}
	err = e.withMaterials(ctx, models.AnomalySourcePosting, []int{entry.MaterialId}, func(s *txScope, _ map[int]*models.Material) error {
		current, err := models.GetDamagedStockEntry(s.tx, entryId)
		if err != nil {
			return err
		}
		if current.Status != models.DamageStatusPending {
			return fmt.Errorf("%w: damaged_entry_id=%d status=%s", ErrDamageNotPending, entryId, current.Status)
		}
		now := e.now()
		current.Status = status
		current.ReviewedBy = s.actor
		current.ReviewedAt = &now
		if strings.TrimSpace(note) != "" {
			current.Note = strings.TrimSpace(note)
		}
		if err := models.UpdateDamagedStockReview(s.tx, current); err != nil {
			return err
		}
		entry = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Logger.WithFields(logrus.Fields{
		"damaged_entry_id": entry.ID,
		"material_id":      entry.MaterialId,
		"status":           entry.Status,
		"actor":            utils.ActorOrSystem(ctx),
	}).Info("damage.reviewed")
	return entry, nil
}

func (e *StockEngine) ListDamagedStock(ctx context.Context, issueId int) ([]*models.DamagedStockEntry, error) {
	return models.ListDamagedStockEntries(e.DB.WithContext(ctx), issueId)
}
