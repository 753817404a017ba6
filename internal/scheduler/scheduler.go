// Package scheduler drives the recurring tenant-wide passes: the daily
// deadline evaluation plus risk snapshot, and the hourly snooze wake-up.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"dealguard/internal/proactive"
	"dealguard/internal/tenant"
	"dealguard/pkg/requestcontext"
)

// AlertPass is the slice of the alert service the scheduler drives.
type AlertPass interface {
	EvaluateDeadlines(ctx context.Context) (int, error)
	WakeSnoozed(ctx context.Context, now time.Time) (int, error)
}

// RiskPass is the slice of the risk service the scheduler drives.
type RiskPass interface {
	Snapshot(ctx context.Context) (*proactive.RiskSnapshot, error)
}

// Scheduler fans the scheduled passes out over every active tenant.
type Scheduler struct {
	tenants       tenant.Store
	alerts        AlertPass
	risk          RiskPass
	dailyInterval time.Duration
	wakeInterval  time.Duration
	logger        *slog.Logger
}

func New(
	tenants tenant.Store,
	alerts AlertPass,
	risk RiskPass,
	dailyInterval, wakeInterval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if dailyInterval <= 0 {
		dailyInterval = 24 * time.Hour
	}
	if wakeInterval <= 0 {
		wakeInterval = time.Hour
	}
	return &Scheduler{
		tenants:       tenants,
		alerts:        alerts,
		risk:          risk,
		dailyInterval: dailyInterval,
		wakeInterval:  wakeInterval,
		logger:        logger,
	}
}

// Run blocks until ctx is cancelled. Both passes run once immediately so a
// restarted server does not wait a full interval to catch up.
func (s *Scheduler) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.loop(ctx, s.dailyInterval, s.RunDailyPass)
	})
	group.Go(func() error {
		return s.loop(ctx, s.wakeInterval, s.RunWakePass)
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, pass func(context.Context, time.Time) error) error {
	if err := pass(ctx, time.Now()); err != nil {
		s.logger.Error("scheduled pass failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := pass(ctx, now); err != nil {
				s.logger.Error("scheduled pass failed", "error", err)
			}
		}
	}
}

// RunDailyPass evaluates deadlines and writes a risk snapshot for each active
// tenant. A failing tenant is logged and skipped; the pass keeps going.
func (s *Scheduler) RunDailyPass(ctx context.Context, now time.Time) error {
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, t := range tenants {
		tctx := requestcontext.WithTime(requestcontext.WithTenantID(ctx, t.ID), now)

		touched, err := s.alerts.EvaluateDeadlines(tctx)
		if err != nil {
			s.logger.Error("deadline evaluation failed",
				"tenant_id", t.ID.String(), "error", err)
			continue
		}
		if _, err := s.risk.Snapshot(tctx); err != nil {
			s.logger.Error("risk snapshot failed",
				"tenant_id", t.ID.String(), "error", err)
			continue
		}
		s.logger.Info("daily pass completed",
			"tenant_id", t.ID.String(), "alerts_touched", touched)
	}
	return nil
}

// RunWakePass clears lapsed snoozes across all active tenants.
func (s *Scheduler) RunWakePass(ctx context.Context, now time.Time) error {
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, t := range tenants {
		tctx := requestcontext.WithTime(requestcontext.WithTenantID(ctx, t.ID), now)
		woken, err := s.alerts.WakeSnoozed(tctx, now)
		if err != nil {
			s.logger.Error("snooze wake-up failed",
				"tenant_id", t.ID.String(), "error", err)
			continue
		}
		if woken > 0 {
			s.logger.Info("snoozed alerts woken",
				"tenant_id", t.ID.String(), "count", woken)
		}
	}
	return nil
}
