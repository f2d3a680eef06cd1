package workflow

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/packing_backend/config"
	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("packing-stock-ledger")

// AnomalyNotifier is told about anomalies after the transaction that raised them commits.
type AnomalyNotifier interface {
	NotifyAnomaly(ctx context.Context, anomaly *models.LedgerAnomaly) error
}

// StockEngine owns every mutation of material balances, ledger rows,
// issue/receipt state and WIP. All writes to one material go through
// withMaterials, which takes the material lock before the transaction.
type StockEngine struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Locker   MaterialLocker
	Location *time.Location
	Notifier AnomalyNotifier
	Now      func() time.Time
}

func NewStockEngine(db *gorm.DB, logger *logrus.Logger, locker MaterialLocker, loc *time.Location) *StockEngine {
	if logger == nil {
		logger = config.GetLogger()
	}
	if locker == nil {
		locker = NewMemoryMaterialLocker()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &StockEngine{DB: db, Logger: logger, Locker: locker, Location: loc}
}

// NewConfiguredEngine builds the engine the server and the CLI tools share:
// lock backend, organization timezone and the optional anomaly topic all come
// from cfg. Redis is connected here only when it backs the locks.
func NewConfiguredEngine(ctx context.Context, cfg *config.AppConfig, db *gorm.DB, logger *logrus.Logger) (*StockEngine, error) {
	var redisLock *redislock.Client
	if cfg.Lock.Backend == config.LockBackendRedis {
		config.ConnectRedisWithRetry(ctx)
		redisLock = config.GetRedisLock()
	}
	locker, err := NewMaterialLocker(cfg.Lock, db, redisLock)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return nil, err
	}
	engine := NewStockEngine(db, logger, locker, loc)
	if topic := cfg.PubSub.AnomalyTopic; topic != "" {
		engine.Notifier = &PubSubAnomalyNotifier{Topic: topic}
	}
	return engine, nil
}

func (e *StockEngine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// dayOf is the day key of t in the organization timezone.
func (e *StockEngine) dayOf(t time.Time) time.Time {
	return utils.DayKey(t, e.Location)
}

func (e *StockEngine) today() time.Time {
	return e.dayOf(e.now())
}

// txScope is one locked transaction plus the anomalies it raised.
type txScope struct {
	ctx           context.Context
	tx            *gorm.DB
	source        models.AnomalySource
	runId         string
	correlationId string
	actor         string
	anomalies     []*models.LedgerAnomaly
}

func (e *StockEngine) newScope(ctx context.Context, source models.AnomalySource) *txScope {
	runId, ok := utils.GetRunIdFromContext(ctx)
	if !ok || runId == "" {
		runId = uuid.NewString()
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	return &txScope{
		ctx:           ctx,
		source:        source,
		runId:         runId,
		correlationId: correlationId,
		actor:         utils.ActorOrSystem(ctx),
	}
}

// withMaterials locks materialIds, opens a transaction, row-locks the
// materials and runs fn. Anomalies raised by fn are published after commit.
func (e *StockEngine) withMaterials(ctx context.Context, source models.AnomalySource, materialIds []int, fn func(s *txScope, materials map[int]*models.Material) error) error {
	ids := utils.SortedUniqueInts(materialIds)
	heldCtx, release, err := e.Locker.Lock(ctx, ids...)
	if err != nil {
		return err
	}
	defer release()

	s := e.newScope(heldCtx, source)
	err = e.DB.WithContext(heldCtx).Transaction(func(tx *gorm.DB) error {
		s.tx = tx
		s.anomalies = nil
		materials, err := models.LockMaterials(tx, ids)
		if err != nil {
			return err
		}
		if err := fn(s, materials); err != nil {
			return err
		}
		// Never commit work whose lock lapsed mid-transaction.
		return context.Cause(heldCtx)
	})
	if err != nil {
		return err
	}
	e.notify(ctx, s.anomalies)
	return nil
}

// withTx runs fn in a transaction without material locks, for writes that
// touch no material balances.
func (e *StockEngine) withTx(ctx context.Context, source models.AnomalySource, fn func(s *txScope) error) error {
	s := e.newScope(ctx, source)
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s.tx = tx
		s.anomalies = nil
		return fn(s)
	})
	if err != nil {
		return err
	}
	e.notify(ctx, s.anomalies)
	return nil
}

func (e *StockEngine) notify(ctx context.Context, anomalies []*models.LedgerAnomaly) {
	if e.Notifier == nil {
		return
	}
	for _, a := range anomalies {
		if err := e.Notifier.NotifyAnomaly(ctx, a); err != nil {
			config.LogError(e.Logger, "engine.go", "notify", "NotifyAnomaly", a.ID, err)
		}
	}
}

func (e *StockEngine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
