package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/mmdatafocus/packing_backend/workflow"
)

func (h *Handler) now() time.Time {
	if h.Engine.Now != nil {
		return h.Engine.Now()
	}
	return time.Now()
}

func (h *Handler) captureOpening(c *gin.Context) {
	h.capture(c, "captureOpening", h.Engine.CaptureOpening)
}

func (h *Handler) captureClosing(c *gin.Context) {
	h.capture(c, "captureClosing", h.Engine.CaptureClosing)
}

// capture runs a manual capture for ?date=YYYY-MM-DD, defaulting to today.
// Per-material failures still return the partial result alongside the error.
func (h *Handler) capture(c *gin.Context, funcName string, run func(context.Context, time.Time) (*workflow.CaptureResult, error)) {
	date, ok := h.queryDay(c, "date", h.now())
	if !ok {
		return
	}
	ctx := utils.SetRunIdInContext(c.Request.Context(), uuid.NewString())
	result, err := run(ctx, date)
	if err != nil {
		if result == nil {
			h.respondError(c, funcName, err)
			return
		}
		h.Logger.WithField("field", funcName).Warn("capture finished with failures: " + err.Error())
		c.JSON(http.StatusMultiStatus, gin.H{"result": result, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) recompute(c *gin.Context) {
	materialId, ok := optionalQueryId(c, "material_id")
	if !ok {
		return
	}
	summary, err := h.Engine.RecomputeHistory(c.Request.Context(), materialId)
	if err != nil {
		h.respondError(c, "recompute", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) reconcileWIP(c *gin.Context) {
	materialId, ok := optionalQueryId(c, "material_id")
	if !ok {
		return
	}
	rows, err := h.Engine.ReconcileWIP(c.Request.Context(), materialId)
	if err != nil {
		h.respondError(c, "reconcileWIP", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
