package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/vdiana16/SiemensJava2025/internal/domain"
)

const retryDelay = 30 * time.Second

// ErrInvalidSchedule is returned for cron expressions gronx rejects
var ErrInvalidSchedule = errors.New("invalid cron schedule")

// Scheduler triggers batch runs on a cron schedule.
// A tick that fires while the previous batch is still running is skipped.
type Scheduler struct {
	runner  domain.BatchRunner
	cron    string
	timeout time.Duration
	logger  *zap.Logger

	next    func(now time.Time) (time.Time, error)
	running atomic.Bool
	runs    atomic.Int64
	// inflight tracks the batch goroutine so Run never returns ahead of it
	inflight sync.WaitGroup
}

// New validates the cron expression and builds a scheduler.
// timeout bounds every run; zero means no bound beyond the scheduler context.
func New(runner domain.BatchRunner, cron string, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, cron)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		runner:  runner,
		cron:    cron,
		timeout: timeout,
		logger:  logger.Named("scheduler"),
		next: func(now time.Time) (time.Time, error) {
			return gronx.NextTickAfter(cron, now, false)
		},
	}, nil
}

// Runs returns the number of batches the scheduler started
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Run blocks until ctx is done, starting a batch at every tick.
// It returns only after the last started batch has finished, so callers may
// close the store right after.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started", zap.String("cron", s.cron))
	defer s.logger.Info("Scheduler stopped")
	defer s.inflight.Wait()

	for {
		next, err := s.next(time.Now())
		if err != nil {
			s.logger.Error("Failed to compute next tick", zap.String("cron", s.cron), zap.Error(err))
			if !sleep(ctx, retryDelay) {
				return nil
			}
			continue
		}

		if !sleep(ctx, time.Until(next)) {
			return nil
		}
		s.trigger(ctx)
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Previous batch still running, skipping tick")
		return
	}
	s.runs.Add(1)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.running.Store(false)

		runCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		result, err := s.runner.RunBatch(runCtx)
		if err != nil {
			s.logger.Error("Scheduled batch failed", zap.Error(err))
			return
		}
		s.logger.Info("Scheduled batch completed",
			zap.String("batch_id", result.BatchID),
			zap.Int("processed", result.Count),
			zap.Int("not_found", len(result.NotFound)),
			zap.Int("failed", len(result.Failures)),
		)
	}()
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
