package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/packing_backend/models"
)

func (h *Handler) createMaterial(c *gin.Context) {
	var input models.NewMaterial
	if !bindJSON(c, &input) {
		return
	}
	material, err := h.Engine.CreateMaterial(c.Request.Context(), &input)
	if err != nil {
		h.respondError(c, "createMaterial", err)
		return
	}
	c.JSON(http.StatusCreated, material)
}

func (h *Handler) getMaterial(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	material, err := h.Engine.GetMaterial(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "getMaterial", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"material":      material,
		"tracked_total": material.TrackedTotal(),
		"is_low_stock":  material.IsLowStock(),
	})
}

func (h *Handler) lowStockMaterials(c *gin.Context) {
	materials, err := h.Engine.LowStockMaterials(c.Request.Context())
	if err != nil {
		h.respondError(c, "lowStockMaterials", err)
		return
	}
	c.JSON(http.StatusOK, materials)
}

func (h *Handler) materialHistories(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.Engine.MaterialHistories(c.Request.Context(), id, limit)
	if err != nil {
		h.respondError(c, "materialHistories", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) wipSplit(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	split, err := h.Engine.WIPSplit(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "wipSplit", err)
		return
	}
	c.JSON(http.StatusOK, split)
}

func (h *Handler) outstandingWIP(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	lines, err := h.Engine.OutstandingWIP(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "outstandingWIP", err)
		return
	}
	c.JSON(http.StatusOK, lines)
}
