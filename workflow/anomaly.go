package workflow

import (
	"context"
	"strconv"
	"time"

	"github.com/mmdatafocus/packing_backend/config"
	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// recordAnomaly upserts a finding in the current transaction. It never fails
// the caller for anything but a store error.
func (s *txScope) recordAnomaly(logger *logrus.Logger, materialId int, day time.Time, anomalyType models.AnomalyType, sourceRef string, raw decimal.Decimal, details string) error {
	anomaly := &models.LedgerAnomaly{
		MaterialId:    materialId,
		EntryDate:     day,
		AnomalyType:   anomalyType,
		Source:        s.source,
		SourceRef:     sourceRef,
		RawValue:      raw,
		Details:       details,
		RunId:         s.runId,
		CorrelationId: s.correlationId,
	}
	if err := models.UpsertLedgerAnomaly(s.tx, anomaly); err != nil {
		return err
	}
	s.anomalies = append(s.anomalies, anomaly)
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"material_id":    materialId,
			"entry_date":     utils.FormatDay(day),
			"anomaly_type":   anomalyType,
			"source":         s.source,
			"source_ref":     sourceRef,
			"raw_value":      raw.String(),
			"run_id":         s.runId,
			"correlation_id": s.correlationId,
		}).Warn("ledger.anomaly")
	}
	return nil
}

func (e *StockEngine) ListAnomalies(ctx context.Context, filter models.AnomalyFilter) ([]*models.LedgerAnomaly, error) {
	return models.ListLedgerAnomalies(e.DB.WithContext(ctx), filter)
}

func (e *StockEngine) AcknowledgeAnomaly(ctx context.Context, id int) (*models.LedgerAnomaly, error) {
	return models.AcknowledgeLedgerAnomaly(e.DB.WithContext(ctx), id, utils.ActorOrSystem(ctx), e.now())
}

// PubSubAnomalyNotifier publishes each anomaly as JSON to Topic.
type PubSubAnomalyNotifier struct {
	Topic string
}

func (n *PubSubAnomalyNotifier) NotifyAnomaly(ctx context.Context, anomaly *models.LedgerAnomaly) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := config.PublishJSON(ctx, n.Topic, anomaly, map[string]string{
		"anomaly_type": string(anomaly.AnomalyType),
		"material_id":  strconv.Itoa(anomaly.MaterialId),
	})
	return err
}
