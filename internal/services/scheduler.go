package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"agri-ledger/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultSchedulerBatch = 200

// RunStats summarizes one pass over due scheduled payments.
type RunStats struct {
	Due      int `json:"due"`
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
}

// Scheduler executes due scheduled payments in the background.
type Scheduler struct {
	schedules *ScheduleService
	logger    zerolog.Logger
	interval  time.Duration
	workers   int
	batch     int
}

func NewScheduler(schedules *ScheduleService, interval time.Duration, workers int) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		schedules: schedules,
		logger:    schedules.ledger.logger.With().Str("component", "scheduler").Logger(),
		interval:  interval,
		workers:   workers,
		batch:     defaultSchedulerBatch,
	}
}

// OccurrenceKey identifies one occurrence of a schedule, so a pass that is re-run never
// charges the same occurrence twice.
func OccurrenceKey(p *models.ScheduledPayment) string {
	return fmt.Sprintf("sched:%s:%d", p.ID, p.NextPaymentDate.Unix())
}

// RunOnce executes every schedule due now. Individual failures are counted, not returned.
func (s *Scheduler) RunOnce(ctx context.Context) (RunStats, error) {
	due, err := s.schedules.store.ListDueScheduledPayments(ctx, s.schedules.ledger.now(), s.batch)
	if err != nil {
		return RunStats{}, fmt.Errorf("failed to list due payments: %w", err)
	}

	var executed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, p := range due {
		p := p
		g.Go(func() error {
			_, err := s.schedules.executeDue(gctx, p.ID, p.NextPaymentDate, models.MoneyOptions{
				IdempotencyKey: OccurrenceKey(p),
				Actor:          models.Actor{UserID: "scheduler"},
			})
			if err != nil {
				failed.Add(1)
				return nil
			}
			executed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RunStats{}, err
	}

	stats := RunStats{Due: len(due), Executed: int(executed.Load()), Failed: int(failed.Load())}
	if stats.Due > 0 {
		s.logger.Info().
			Int("due", stats.Due).
			Int("executed", stats.Executed).
			Int("failed", stats.Failed).
			Msg("Scheduled payments pass finished")
	}
	return stats, nil
}

// Run repeats RunOnce every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Int("workers", s.workers).Msg("Scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Scheduled payments pass failed")
		}
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}
