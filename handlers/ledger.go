package handlers

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/packing_backend/middlewares"
	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/models/reports"
	"github.com/mmdatafocus/packing_backend/utils"
)

// rangeParams reads the required start and end days of a [start, end) query.
func (h *Handler) rangeParams(c *gin.Context) (time.Time, time.Time, bool) {
	start, ok := h.queryDay(c, "start", time.Time{})
	if !ok {
		return start, start, false
	}
	end, ok := h.queryDay(c, "end", time.Time{})
	if !ok {
		return start, end, false
	}
	if start.IsZero() || end.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start and end are required"})
		return start, end, false
	}
	return start, end, true
}

func (h *Handler) ledgerReport(c *gin.Context) {
	id, ok := paramId(c, "materialId")
	if !ok {
		return
	}
	start, end, ok := h.rangeParams(c)
	if !ok {
		return
	}
	report, err := h.Engine.ReportRange(c.Request.Context(), id, start, end)
	if err != nil {
		h.respondError(c, "ledgerReport", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) ledgerEntries(c *gin.Context) {
	id, ok := paramId(c, "materialId")
	if !ok {
		return
	}
	start, ok := h.queryDay(c, "start", time.Time{})
	if !ok {
		return
	}
	end, ok := h.queryDay(c, "end", time.Time{})
	if !ok {
		return
	}
	entries, err := h.Engine.LedgerEntries(c.Request.Context(), id, start, end)
	if err != nil {
		h.respondError(c, "ledgerEntries", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) ledgerExport(c *gin.Context) {
	id, ok := paramId(c, "materialId")
	if !ok {
		return
	}
	start, end, ok := h.rangeParams(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	report, err := h.Engine.ReportRange(ctx, id, start, end)
	if err != nil {
		h.respondError(c, "ledgerExport", err)
		return
	}
	entries, err := h.Engine.LedgerEntries(ctx, id, start, end)
	if err != nil {
		h.respondError(c, "ledgerExport", err)
		return
	}
	var buf bytes.Buffer
	if err := reports.WriteLedger(&buf, report, entries); err != nil {
		h.respondError(c, "ledgerExport", err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+reports.LedgerExportFilename(report))
	c.Data(http.StatusOK, reports.XLSXContentType, buf.Bytes())
}

type anomalyView struct {
	*models.LedgerAnomaly
	MaterialName string `json:"material_name"`
}

func (h *Handler) listAnomalies(c *gin.Context) {
	materialId, ok := optionalQueryId(c, "material_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	filter := models.AnomalyFilter{
		MaterialId:   utils.DereferencePtr(materialId, 0),
		AnomalyType:  models.AnomalyType(c.Query("type")),
		ReviewStatus: models.AnomalyReviewStatus(c.Query("status")),
		Limit:        limit,
	}
	ctx := c.Request.Context()
	rows, err := h.Engine.ListAnomalies(ctx, filter)
	if err != nil {
		h.respondError(c, "listAnomalies", err)
		return
	}

	ids := make([]int, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.MaterialId)
	}
	names := make(map[int]string)
	if len(ids) > 0 {
		materials, errs := middlewares.GetMaterials(ctx, utils.UniqueSlice(ids))
		for i, m := range materials {
			if len(errs) > i && errs[i] != nil {
				h.respondError(c, "listAnomalies", errs[i])
				return
			}
			names[m.ID] = m.Name
		}
	}

	views := make([]anomalyView, 0, len(rows))
	for _, row := range rows {
		views = append(views, anomalyView{LedgerAnomaly: row, MaterialName: names[row.MaterialId]})
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) acknowledgeAnomaly(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	anomaly, err := h.Engine.AcknowledgeAnomaly(ctx, id)
	if err != nil {
		h.respondError(c, "acknowledgeAnomaly", err)
		return
	}
	material, err := middlewares.GetMaterial(ctx, anomaly.MaterialId)
	if err != nil {
		h.respondError(c, "acknowledgeAnomaly", err)
		return
	}
	c.JSON(http.StatusOK, anomalyView{LedgerAnomaly: anomaly, MaterialName: material.Name})
}
