// Package sched fires the hourly expiry pass. At each hour boundary in the
// exchange timezone the scheduler deletes error trades, marks still-open
// trades expired, and spawns settlement polling to resolve them.
package sched

import (
	"context"
	"log/slog"
	"time"
)

// ExpiryHandler is the trade-manager surface the scheduler drives, in the
// order the steps run.
type ExpiryHandler interface {
	DeleteErrors()
	ExpireOpen(ctx context.Context) int
	ResolveExpired(ctx context.Context)
}

// Scheduler runs the hourly boundary pass.
type Scheduler struct {
	handler ExpiryHandler
	loc     *time.Location
	logger  *slog.Logger
}

// New creates the scheduler. loc is the exchange timezone whose hour
// boundaries drive expiry.
func New(handler ExpiryHandler, loc *time.Location, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		handler: handler,
		loc:     loc,
		logger:  logger.With("component", "expiry_scheduler"),
	}
}

// NextBoundary returns the first top-of-hour instant after now in the
// exchange timezone.
func (s *Scheduler) NextBoundary(now time.Time) time.Time {
	t := now.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, s.loc).Add(time.Hour)
}

// Run fires the boundary pass every hour until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		boundary := s.NextBoundary(time.Now())
		timer := time.NewTimer(time.Until(boundary))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Fire(ctx)
		}
	}
}

// Fire runs one boundary pass: delete errors, expire still-open trades, and
// poll settlements in the background. Settlement polling carries its own
// deadline; a pass still running at the next boundary is independent of it.
func (s *Scheduler) Fire(ctx context.Context) {
	s.logger.Info("hourly boundary, running expiry pass")

	s.handler.DeleteErrors()
	if n := s.handler.ExpireOpen(ctx); n > 0 {
		s.logger.Info("marked open trades expired", "count", n)
	}
	go s.handler.ResolveExpired(ctx)
}
