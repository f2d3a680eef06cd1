package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mmdatafocus/packing_backend/config"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CaptureScheduler runs the daily opening and closing capture at wall-clock
// times in the organization timezone.
type CaptureScheduler struct {
	Engine   *StockEngine
	Logger   *logrus.Logger
	Schedule config.ScheduleConfig

	cron *cron.Cron
}

func NewCaptureScheduler(engine *StockEngine, schedule config.ScheduleConfig) (*CaptureScheduler, error) {
	loc, err := schedule.Location()
	if err != nil {
		return nil, err
	}
	openingSpec, err := schedule.OpeningSpec()
	if err != nil {
		return nil, err
	}
	closingSpec, err := schedule.ClosingSpec()
	if err != nil {
		return nil, err
	}
	s := &CaptureScheduler{
		Engine:   engine,
		Logger:   engine.Logger,
		Schedule: schedule,
		cron:     cron.New(cron.WithLocation(loc)),
	}
	if _, err := s.cron.AddFunc(openingSpec, func() { s.RunOpening(context.Background()) }); err != nil {
		return nil, fmt.Errorf("opening schedule %q: %w", openingSpec, err)
	}
	if _, err := s.cron.AddFunc(closingSpec, func() { s.RunClosing(context.Background()) }); err != nil {
		return nil, fmt.Errorf("closing schedule %q: %w", closingSpec, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is done; running captures are
// allowed to finish.
func (s *CaptureScheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.Logger.WithFields(logrus.Fields{
		"timezone": s.Schedule.Timezone,
		"opening":  s.Schedule.OpeningTime,
		"closing":  s.Schedule.ClosingTime,
	}).Info("ledger.scheduler.started")
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.Logger.Info("ledger.scheduler.stopped")
}

func (s *CaptureScheduler) RunOpening(ctx context.Context) {
	ctx = utils.SetRunIdInContext(ctx, uuid.NewString())
	if _, err := s.Engine.CaptureOpening(ctx, s.Engine.now()); err != nil {
		config.LogError(s.Logger, "scheduler.go", "RunOpening", "CaptureOpening", nil, err)
	}
}

func (s *CaptureScheduler) RunClosing(ctx context.Context) {
	ctx = utils.SetRunIdInContext(ctx, uuid.NewString())
	if _, err := s.Engine.CaptureClosing(ctx, s.Engine.now()); err != nil {
		config.LogError(s.Logger, "scheduler.go", "RunClosing", "CaptureClosing", nil, err)
	}
}

// Entries reports how many jobs are registered.
func (s *CaptureScheduler) Entries() int {
	return len(s.cron.Entries())
}
