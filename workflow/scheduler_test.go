package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/packing_backend/config"
)

func TestCaptureSchedulerRegistersBothJobs(t *testing.T) {
	e := newTestEngine(t)
	s, err := NewCaptureScheduler(e, config.ScheduleConfig{Enabled: true, Timezone: "Asia/Yangon", OpeningTime: "00:05", ClosingTime: "23:55"})
	if err != nil {
		t.Fatalf("NewCaptureScheduler: %v", err)
	}
	if s.Entries() != 2 {
		t.Fatalf("entries = %d, want 2", s.Entries())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}

func TestCaptureSchedulerRejectsBadTimes(t *testing.T) {
	e := newTestEngine(t)
	if _, err := NewCaptureScheduler(e, config.ScheduleConfig{Timezone: "Asia/Yangon", OpeningTime: "25:00", ClosingTime: "23:55"}); err == nil {
		t.Fatalf("invalid opening time accepted")
	}
	if _, err := NewCaptureScheduler(e, config.ScheduleConfig{Timezone: "Mars/Olympus", OpeningTime: "00:05", ClosingTime: "23:55"}); err == nil {
		t.Fatalf("invalid timezone accepted")
	}
}

func TestSchedulerRunsCaptureForToday(t *testing.T) {
	e := newTestEngine(t)
	m := mustMaterial(t, e, "Pallet", "3")
	s, err := NewCaptureScheduler(e, config.ScheduleConfig{Timezone: "UTC", OpeningTime: "00:05", ClosingTime: "23:55"})
	if err != nil {
		t.Fatalf("NewCaptureScheduler: %v", err)
	}
	s.RunOpening(context.Background())
	s.RunClosing(context.Background())
	assertLedger(t, e, m.ID, []ledgerRow{{"2026-03-10", "3", "0", "0", "3"}})
}
