package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/packing_backend/workflow"
)

func (h *Handler) createIssue(c *gin.Context) {
	var input workflow.NewIssueRecord
	if !bindJSON(c, &input) {
		return
	}
	issue, err := h.Engine.CreateIssue(c.Request.Context(), &input)
	if err != nil {
		h.respondError(c, "createIssue", err)
		return
	}
	c.JSON(http.StatusCreated, issue)
}

func (h *Handler) getIssue(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	issue, err := h.Engine.GetIssue(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "getIssue", err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *Handler) cancelIssue(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !bindJSON(c, &req) {
		return
	}
	issue, err := h.Engine.CancelIssue(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.respondError(c, "cancelIssue", err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *Handler) fulfillmentStatus(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	status, err := h.Engine.FulfillmentStatus(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "fulfillmentStatus", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) listDamaged(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	entries, err := h.Engine.ListDamagedStock(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "listDamaged", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) acceptReceipt(c *gin.Context) {
	var input workflow.NewReceipt
	if !bindJSON(c, &input) {
		return
	}
	result, err := h.Engine.AcceptReceipt(c.Request.Context(), &input)
	if err != nil {
		h.respondError(c, "acceptReceipt", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) cancelReceipt(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.Engine.CancelReceipt(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.respondError(c, "cancelReceipt", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) approveDamage(c *gin.Context) {
	h.reviewDamage(c, true)
}

func (h *Handler) rejectDamage(c *gin.Context) {
	h.reviewDamage(c, false)
}

func (h *Handler) reviewDamage(c *gin.Context, approve bool) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	var req noteRequest
	// the note is optional, so an empty body is fine
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	review := h.Engine.RejectDamage
	if approve {
		review = h.Engine.ApproveDamage
	}
	entry, err := review(c.Request.Context(), id, req.Note)
	if err != nil {
		h.respondError(c, "reviewDamage", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) writeOff(c *gin.Context) {
	var input workflow.NewWriteOff
	if !bindJSON(c, &input) {
		return
	}
	row, err := h.Engine.WriteOffVariance(c.Request.Context(), &input)
	if err != nil {
		h.respondError(c, "writeOff", err)
		return
	}
	c.JSON(http.StatusCreated, row)
}
