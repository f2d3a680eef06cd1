package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/packing_backend/config"
	"github.com/mmdatafocus/packing_backend/middlewares"
	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/mmdatafocus/packing_backend/workflow"
	"github.com/sirupsen/logrus"
)

// Handler exposes the stock engine over HTTP.
type Handler struct {
	Engine *workflow.StockEngine
	Logger *logrus.Logger
}

var (
	registerOnce sync.Once
	registerErr  error
)

// New registers the custom binding validations with gin's validator before
// any request is bound.
func New(engine *workflow.StockEngine) (*Handler, error) {
	registerOnce.Do(func() {
		registerErr = registerValidations()
	})
	if registerErr != nil {
		return nil, registerErr
	}
	logger := engine.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Handler{Engine: engine, Logger: logger}, nil
}

func registerValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin binding validator is not go-playground/validator")
	}
	return v.RegisterValidation("destination_class", func(fl validator.FieldLevel) bool {
		return models.DestinationClass(fl.Field().String()).IsValid()
	})
}

// RegisterRoutes mounts the API on r. Ops endpoints go through opsLimiter.
func (h *Handler) RegisterRoutes(r gin.IRouter, opsLimiter *middlewares.OpsRateLimiter) {
	api := r.Group("/api")

	api.POST("/materials", h.createMaterial)
	api.GET("/materials/low-stock", h.lowStockMaterials)
	api.GET("/materials/:id", h.getMaterial)
	api.GET("/materials/:id/histories", h.materialHistories)
	api.GET("/materials/:id/wip", h.wipSplit)
	api.GET("/materials/:id/wip/outstanding", h.outstandingWIP)

	api.POST("/issues", h.createIssue)
	api.GET("/issues/:id", h.getIssue)
	api.POST("/issues/:id/cancel", h.cancelIssue)
	api.GET("/issues/:id/fulfillment", h.fulfillmentStatus)
	api.GET("/issues/:id/damaged", h.listDamaged)

	api.POST("/receipts", h.acceptReceipt)
	api.POST("/receipts/:id/cancel", h.cancelReceipt)

	api.POST("/damaged/:id/approve", h.approveDamage)
	api.POST("/damaged/:id/reject", h.rejectDamage)

	api.POST("/write-offs", h.writeOff)

	api.GET("/ledger/:materialId/report", h.ledgerReport)
	api.GET("/ledger/:materialId/entries", h.ledgerEntries)
	api.GET("/ledger/:materialId/export", h.ledgerExport)

	api.GET("/anomalies", h.listAnomalies)
	api.POST("/anomalies/:id/acknowledge", h.acknowledgeAnomaly)

	ops := api.Group("/ops")
	if opsLimiter != nil {
		ops.Use(opsLimiter.Middleware())
	}
	ops.POST("/capture-opening", h.captureOpening)
	ops.POST("/capture-closing", h.captureClosing)
	ops.POST("/recompute", h.recompute)
	ops.POST("/reconcile-wip", h.reconcileWIP)

	r.POST("/pubsub", h.pubsubPush)
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type noteRequest struct {
	Note string `json:"note"`
}

// respondError maps workflow errors onto status codes: 422 for input that
// can never succeed, 404 for missing records, 409 when a material lock could
// not be taken or lapsed, 500 otherwise.
func (h *Handler) respondError(c *gin.Context, funcName string, err error) {
	switch {
	case workflow.IsValidationError(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case workflow.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrLockNotObtained), errors.Is(err, workflow.ErrLockLost):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		config.LogError(h.Logger, "handlers", funcName, c.Request.Method+" "+c.FullPath(), nil, err)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// bindJSON binds the body into obj and writes the error response itself.
func bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		if fields := utils.ProcessValidationErrors(err); fields != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": fields})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

func paramId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// optionalQueryId returns nil when the query parameter is absent.
func optionalQueryId(c *gin.Context, name string) (*int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	return &id, true
}

// queryDay parses a YYYY-MM-DD query parameter as local midnight in the
// organization timezone. A missing value yields def.
func (h *Handler) queryDay(c *gin.Context, name string, def time.Time) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, true
	}
	t, err := time.ParseInLocation(utils.DayLayout, raw, h.Engine.Location)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + ", want YYYY-MM-DD"})
		return time.Time{}, false
	}
	return t, true
}
