package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/packing_backend/config"
	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// GoodsReceipt is goods received against a purchase order, as published by purchasing.
type GoodsReceipt struct {
	SourceEventId    string                   `json:"source_event_id"`
	MaterialId       int                      `json:"material_id"`
	Quantity         decimal.Decimal          `json:"quantity"`
	ExtraQuantity    decimal.Decimal          `json:"extra_quantity"`
	Status           models.InwardEventStatus `json:"status"`
	EventTime        time.Time                `json:"event_time"`
	PurchaseOrderRef string                   `json:"purchase_order_ref"`
}

// MaterialIssued is a direct issue that has no issue record in this service.
type MaterialIssued struct {
	SourceEventId    string                  `json:"source_event_id"`
	MaterialId       int                     `json:"material_id"`
	Quantity         decimal.Decimal         `json:"quantity"`
	DestinationClass models.DestinationClass `json:"destination_class"`
	EventTime        time.Time               `json:"event_time"`
}

type InboundResult struct {
	SourceEventId string          `json:"source_event_id"`
	Applied       bool            `json:"applied"`
	Duplicate     bool            `json:"duplicate"`
	Skipped       bool            `json:"skipped"`
	OnHandDelta   decimal.Decimal `json:"on_hand_delta"`
}

func (g *GoodsReceipt) validate() error {
	g.SourceEventId = strings.TrimSpace(g.SourceEventId)
	if g.SourceEventId == "" {
		return fmt.Errorf("%w: source_event_id is required", ErrInvalidEvent)
	}
	if g.MaterialId <= 0 {
		return fmt.Errorf("%w: material_id is required", ErrInvalidEvent)
	}
	if g.Quantity.IsNegative() || g.ExtraQuantity.IsNegative() {
		return fmt.Errorf("%w: negative quantity", ErrInvalidEvent)
	}
	if g.Status == "" {
		g.Status = models.InwardEventStatusApproved
	}
	if !g.Status.IsValid() {
		return fmt.Errorf("%w: status %q", ErrInvalidEvent, g.Status)
	}
	return nil
}

// ApplyGoodsReceipt is idempotent by SourceEventId. A redelivery with a new
// status applies only the change in counted quantity; one that moves the
// event to another material or day is refused.
func (e *StockEngine) ApplyGoodsReceipt(ctx context.Context, input GoodsReceipt) (*InboundResult, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	eventTime := input.EventTime
	if eventTime.IsZero() {
		eventTime = e.now()
	}
	day := e.dayOf(eventTime)
	ctx, span := e.startSpan(ctx, "inbound.goodsReceipt", attribute.String("source_event_id", input.SourceEventId))
	result := &InboundResult{SourceEventId: input.SourceEventId}
	err := e.withMaterials(ctx, models.AnomalySourceInbound, []int{input.MaterialId}, func(s *txScope, materials map[int]*models.Material) error {
		event, err := models.GetInwardEventBySource(s.tx, input.SourceEventId)
		if err != nil {
			return err
		}
		previous := decimal.Zero
		var previousStatus models.InwardEventStatus
		if event != nil {
			if event.MaterialId != input.MaterialId || !event.StockDate.Equal(day) {
				return fmt.Errorf("%w: %s was material_id=%d stock_date=%s",
					ErrEventConflict, input.SourceEventId, event.MaterialId, utils.FormatDay(event.StockDate))
			}
			previous = event.CountedQty()
			previousStatus = event.Status
			event.Quantity = input.Quantity
			event.ExtraQuantity = input.ExtraQuantity
			event.Status = input.Status
			event.EventTime = eventTime.UTC()
			if input.PurchaseOrderRef != "" {
				event.PurchaseOrderRef = input.PurchaseOrderRef
			}
		} else {
			event = &models.InwardReceiptEvent{
				SourceEventId:    input.SourceEventId,
				MaterialId:       input.MaterialId,
				Quantity:         input.Quantity,
				ExtraQuantity:    input.ExtraQuantity,
				Status:           input.Status,
				EventTime:        eventTime.UTC(),
				StockDate:        day,
				PurchaseOrderRef: input.PurchaseOrderRef,
			}
		}
		delta := event.CountedQty().Sub(previous)
		if event.ID != 0 && delta.IsZero() && previousStatus == input.Status {
			result.Duplicate = true
		}
		if err := s.tx.Save(event).Error; err != nil {
			return err
		}

		m, ok := materials[input.MaterialId]
		if !ok {
			result.Skipped = true
			details := fmt.Sprintf("goods receipt %s references unknown material", input.SourceEventId)
			return s.recordAnomaly(e.Logger, input.MaterialId, day, models.AnomalyTypeUnknownMaterial, input.SourceEventId, event.CountedQty(), details)
		}
		if delta.IsZero() {
			return nil
		}
		err = s.applyBalanceChange(m, balanceChange{
			Movement:      models.MovementTypeGoodsReceived,
			ReferenceType: models.ReferenceTypeInwardEvent,
			ReferenceId:   event.ID,
			OnHand:        delta,
		})
		if err != nil {
			return err
		}
		result.Applied = true
		result.OnHandDelta = delta
		return e.postLedgerMovement(s, m, day, delta, decimal.Zero)
	})
	endSpan(span, err)
	if err != nil {
		e.recordRejectedEvent(ctx, input.MaterialId, day, input.SourceEventId, input.Quantity.Add(input.ExtraQuantity), err)
		return nil, err
	}
	e.logInbound(config.StockEventGoodsReceiptApproved, input.MaterialId, result)
	return result, nil
}

func (m *MaterialIssued) validate() error {
	m.SourceEventId = strings.TrimSpace(m.SourceEventId)
	if m.SourceEventId == "" {
		return fmt.Errorf("%w: source_event_id is required", ErrInvalidEvent)
	}
	if m.MaterialId <= 0 {
		return fmt.Errorf("%w: material_id is required", ErrInvalidEvent)
	}
	if !m.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidEvent)
	}
	if !m.DestinationClass.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidDestination, m.DestinationClass)
	}
	return nil
}

// ApplyMaterialIssued debits on-hand and credits the class bucket for a
// direct issue. Redeliveries are no-ops.
func (e *StockEngine) ApplyMaterialIssued(ctx context.Context, input MaterialIssued) (*InboundResult, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	eventTime := input.EventTime
	if eventTime.IsZero() {
		eventTime = e.now()
	}
	day := e.dayOf(eventTime)
	ctx, span := e.startSpan(ctx, "inbound.materialIssued", attribute.String("source_event_id", input.SourceEventId))
	result := &InboundResult{SourceEventId: input.SourceEventId}
	err := e.withMaterials(ctx, models.AnomalySourceInbound, []int{input.MaterialId}, func(s *txScope, materials map[int]*models.Material) error {
		existing, err := models.GetOutwardEventBySource(s.tx, input.SourceEventId)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Duplicate = true
			return nil
		}
		event := &models.OutwardIssueEvent{
			SourceEventId:    input.SourceEventId,
			MaterialId:       input.MaterialId,
			Quantity:         input.Quantity,
			DestinationClass: input.DestinationClass,
			Status:           models.OutwardEventStatusActive,
			EventTime:        eventTime.UTC(),
			StockDate:        day,
		}
		m, ok := materials[input.MaterialId]
		if !ok {
			if err := s.tx.Create(event).Error; err != nil {
				return err
			}
			result.Skipped = true
			details := fmt.Sprintf("direct issue %s references unknown material", input.SourceEventId)
			return s.recordAnomaly(e.Logger, input.MaterialId, day, models.AnomalyTypeUnknownMaterial, input.SourceEventId, input.Quantity, details)
		}
		if m.OnHandQty.LessThan(input.Quantity) {
			return fmt.Errorf("%w: material_id=%d on_hand=%s requested=%s",
				ErrInsufficientStock, m.ID, m.OnHandQty.String(), input.Quantity.String())
		}
		if err := s.tx.Create(event).Error; err != nil {
			return err
		}
		change := balanceChange{
			Movement:      models.MovementTypeDirectIssue,
			ReferenceType: models.ReferenceTypeOutwardEvent,
			ReferenceId:   event.ID,
			OnHand:        input.Quantity.Neg(),
		}.withBucket(input.DestinationClass, input.Quantity)
		if err := s.applyBalanceChange(m, change); err != nil {
			return err
		}
		result.Applied = true
		result.OnHandDelta = input.Quantity.Neg()
		return e.postLedgerMovement(s, m, day, decimal.Zero, input.Quantity)
	})
	endSpan(span, err)
	if err != nil {
		e.recordRejectedEvent(ctx, input.MaterialId, day, input.SourceEventId, input.Quantity, err)
		return nil, err
	}
	e.logInbound(config.StockEventMaterialIssued, input.MaterialId, result)
	return result, nil
}

// recordRejectedEvent keeps a trace of an inbound event refused for a
// business reason, since the refused transaction left nothing behind.
func (e *StockEngine) recordRejectedEvent(ctx context.Context, materialId int, day time.Time, sourceEventId string, qty decimal.Decimal, cause error) {
	if !errors.Is(cause, ErrInsufficientStock) && !errors.Is(cause, ErrEventConflict) {
		return
	}
	err := e.withTx(ctx, models.AnomalySourceInbound, func(s *txScope) error {
		return s.recordAnomaly(e.Logger, materialId, day, models.AnomalyTypeRejectedInboundEvent, sourceEventId, qty, cause.Error())
	})
	if err != nil {
		config.LogError(e.Logger, "inboundEvents.go", "recordRejectedEvent", sourceEventId, materialId, err)
	}
}

func (e *StockEngine) logInbound(eventType string, materialId int, result *InboundResult) {
	e.Logger.WithFields(logrus.Fields{
		"event_type":      eventType,
		"source_event_id": result.SourceEventId,
		"material_id":     materialId,
		"applied":         result.Applied,
		"duplicate":       result.Duplicate,
		"skipped":         result.Skipped,
		"on_hand_delta":   result.OnHandDelta.String(),
	}).Info("inbound.event")
}

// HandleStockEventMessage dispatches a Pub/Sub stock event to the matching operation.
func (e *StockEngine) HandleStockEventMessage(ctx context.Context, msg *config.StockEventMessage) (*InboundResult, error) {
	if msg.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, msg.CorrelationId)
	}
	switch msg.EventType {
	case config.StockEventGoodsReceiptApproved:
		return e.ApplyGoodsReceipt(ctx, GoodsReceipt{
			SourceEventId:    msg.SourceEventId,
			MaterialId:       msg.MaterialId,
			Quantity:         msg.Quantity,
			ExtraQuantity:    msg.ExtraQuantity,
			Status:           models.InwardEventStatus(msg.Status),
			EventTime:        msg.EventTime,
			PurchaseOrderRef: msg.PurchaseOrderRef,
		})
	case config.StockEventMaterialIssued:
		return e.ApplyMaterialIssued(ctx, MaterialIssued{
			SourceEventId:    msg.SourceEventId,
			MaterialId:       msg.MaterialId,
			Quantity:         msg.Quantity,
			DestinationClass: models.DestinationClass(msg.DestinationClass),
			EventTime:        msg.EventTime,
		})
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, msg.EventType)
	}
}
