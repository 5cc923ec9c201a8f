/*
scheduler.go - Automated no-show sweeper

PURPOSE:
  Periodically marks CONFIRMED bookings whose slot (plus a grace period)
  has passed as NO_SHOW, for every bound service type.

DESIGN:
  - gocron DurationJob, singleton mode so a slow sweep is never overlapped
  - Each service is swept independently; one failing service does not
    stop the others
  - A sweep also runs once on Start

CONFIGURATION:
  - Interval: NOSHOW_SWEEP_INTERVAL (0 disables the scheduler)
  - Grace:    NOSHOW_GRACE

USAGE:
  sweeper, err := NewNoShowSweeper(handler.Services(), time.Hour, 2*time.Hour, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: SweepNoShows endpoint (manual sweep)
  - generic/lifecycle.go: MarkOverdueNoShows
*/
package api

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// NoShowSweeper handles automated no-show marking.
type NoShowSweeper struct {
	services []BookingService
	interval time.Duration
	grace    time.Duration
	log      *zap.Logger

	sched gocron.Scheduler
}

// NewNoShowSweeper creates a sweeper. It does not run until Start.
func NewNoShowSweeper(services []BookingService, interval, grace time.Duration, log *zap.Logger) (*NoShowSweeper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &NoShowSweeper{
		services: services,
		interval: interval,
		grace:    grace,
		log:      log,
		sched:    sched,
	}, nil
}

// Start schedules the sweep and runs it once immediately.
func (s *NoShowSweeper) Start() error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.RunNow(context.Background()) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}
	s.sched.Start()
	s.log.Info("no-show sweeper started",
		zap.Duration("interval", s.interval), zap.Duration("grace", s.grace))
	return nil
}

// Stop stops the scheduler and waits for a running sweep.
func (s *NoShowSweeper) Stop() error {
	err := s.sched.Shutdown()
	s.log.Info("no-show sweeper stopped")
	return err
}

// RunNow sweeps every service and returns the number of bookings marked.
func (s *NoShowSweeper) RunNow(ctx context.Context) int {
	total := 0
	for _, svc := range s.services {
		n, err := svc.MarkOverdueNoShows(ctx, s.grace)
		if err != nil {
			s.log.Error("no-show sweep failed",
				zap.String("service_type", string(svc.Info().Type)), zap.Error(err))
		}
		total += n
	}
	if total > 0 {
		s.log.Info("no-show sweep completed", zap.Int("marked", total))
	}
	return total
}
