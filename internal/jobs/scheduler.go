package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the expiry jobs on a six-field (seconds first) cron spec in UTC.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

func NewScheduler(r *Runner, spec string, log *slog.Logger) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, r.ExpirePendingTransactions); err != nil {
		return nil, fmt.Errorf("register ExpirePendingTransactions: %w", err)
	}
	if _, err := c.AddFunc(spec, r.ExpireStaleBookings); err != nil {
		return nil, fmt.Errorf("register ExpireStaleBookings: %w", err)
	}
	return &Scheduler{cron: c, log: log}, nil
}

func (s *Scheduler) Start() {
	s.log.Info("starting cron scheduler", "jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("cron scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("cron scheduler stop timed out")
	}
}
