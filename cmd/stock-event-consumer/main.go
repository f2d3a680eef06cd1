package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/packing_backend/config"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/mmdatafocus/packing_backend/workflow"
	"github.com/sirupsen/logrus"
)

// stock-event-consumer pulls GoodsReceiptApproved and MaterialIssued events
// from STOCK_EVENT_SUBSCRIPTION and applies them to the ledger.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := config.GetLogger()

	appConfig, err := config.LoadAppConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if appConfig.PubSub.StockEventSubscription == "" {
		fmt.Fprintln(os.Stderr, "STOCK_EVENT_SUBSCRIPTION is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	engine, err := workflow.NewConfiguredEngine(ctx, appConfig, db, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pubsub client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()
	sub, err := config.CreateSubscriptionIfNotExists(ctx, client, appConfig.PubSub.StockEventSubscription, appConfig.PubSub.StockEventTopic)
	if err != nil {
		fmt.Fprintf(os.Stderr, "subscription: %v\n", err)
		os.Exit(1)
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	logger.WithFields(logrus.Fields{
		"subscription": appConfig.PubSub.StockEventSubscription,
	}).Info("stock_event_consumer.started")

	err = sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		handleMessage(ctx, engine, logger, m)
	})
	if err != nil {
		config.LogError(logger, "stock-event-consumer", "main", "sub.Receive", nil, err)
		os.Exit(1)
	}
	logger.Info("stock_event_consumer.stopped")
}

// handleMessage acks everything redelivery cannot fix and nacks infrastructure failures.
func handleMessage(ctx context.Context, engine *workflow.StockEngine, logger *logrus.Logger, m *pubsub.Message) {
	var msg config.StockEventMessage
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		config.LogError(logger, "stock-event-consumer", "handleMessage", "Unmarshal stock event", string(m.Data), err)
		m.Ack()
		return
	}
	if msg.CorrelationId == "" {
		msg.CorrelationId = m.ID
	}
	ctx = utils.SetActorInContext(ctx, utils.SystemActor)
	result, err := engine.HandleStockEventMessage(ctx, &msg)
	fields := logrus.Fields{
		"event_type":      msg.EventType,
		"source_event_id": msg.SourceEventId,
		"material_id":     msg.MaterialId,
		"message_id":      m.ID,
	}
	switch {
	case err == nil:
		fields["applied"] = result.Applied
		fields["duplicate"] = result.Duplicate
		logger.WithFields(fields).Debug("stock event handled")
		m.Ack()
	case workflow.IsValidationError(err):
		logger.WithFields(fields).Warn("stock event rejected: " + err.Error())
		m.Ack()
	default:
		logger.WithFields(fields).Error("stock event processing failed: " + err.Error())
		m.Nack()
	}
}
