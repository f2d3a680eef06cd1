package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/packing_backend/config"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/mmdatafocus/packing_backend/workflow"
	"github.com/sirupsen/logrus"
)

// pubsubPush handles stock events delivered by a Pub/Sub push subscription.
// A 2xx acks the message; a 500 asks Pub/Sub to redeliver.
func (h *Handler) pubsubPush(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		config.LogError(h.Logger, "handlers", "pubsubPush", "io.ReadAll", nil, err)
		// Malformed request body: ack/drop to avoid infinite retries.
		c.Status(http.StatusNoContent)
		return
	}

	var envelope config.PushEnvelope
	// byte slice unmarshalling handles base64 decoding.
	if err := json.Unmarshal(body, &envelope); err != nil {
		config.LogError(h.Logger, "handlers", "pubsubPush", "Unmarshal body", string(body), err)
		c.Status(http.StatusNoContent)
		return
	}

	var msg config.StockEventMessage
	if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
		config.LogError(h.Logger, "handlers", "pubsubPush", "Unmarshal stock event", string(envelope.Message.Data), err)
		c.Status(http.StatusNoContent)
		return
	}
	if msg.SourceEventId == "" || msg.EventType == "" {
		config.LogError(h.Logger, "handlers", "pubsubPush", "Invalid stock event (missing required fields)", msg, fmt.Errorf("event_type/source_event_id required"))
		c.Status(http.StatusNoContent)
		return
	}
	if msg.CorrelationId == "" {
		msg.CorrelationId = envelope.Message.ID
	}

	ctx := utils.SetActorInContext(c.Request.Context(), utils.SystemActor)
	result, err := h.Engine.HandleStockEventMessage(ctx, &msg)
	if err != nil {
		fields := logrus.Fields{
			"field":           "pubsubPush",
			"event_type":      msg.EventType,
			"source_event_id": msg.SourceEventId,
			"material_id":     msg.MaterialId,
			"message_id":      envelope.Message.ID,
		}
		if workflow.IsValidationError(err) {
			// Redelivery cannot fix it; the rejection is already recorded as an anomaly.
			h.Logger.WithFields(fields).Warn("stock event rejected: " + err.Error())
			c.Status(http.StatusNoContent)
			return
		}
		h.Logger.WithFields(fields).Error("stock event processing failed: " + err.Error())
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, result)
}
