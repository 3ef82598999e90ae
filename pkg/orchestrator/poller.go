package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/cloudres/pkg/artifactstore"
	"github.com/3leaps/cloudres/pkg/run"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Clock returns the current time.
type Clock func() time.Time

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MarkerChecker is the store capability the poller needs.
type MarkerChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// PollResult is the outcome of one poller run.
type PollResult struct {
	Status   run.Status
	Attempts int
}

// Poller watches one run's completion marker.
type Poller struct {
	store   MarkerChecker
	limiter *rate.Limiter
	sleep   Sleeper
	t       *transitioner
	logger  *zap.Logger
}

// Poll waits the grace period, then checks the marker up to cfg.Attempts
// times with cfg.Interval after every check. Finding the marker records
// Completed; exhausting the budget records TimedOut. Store errors count as
// "not found" for that attempt.
//
// Cancelling ctx stops polling without writing any state.
func (p *Poller) Poll(ctx context.Context, runID string, cfg PollerConfig) (res PollResult, err error) {
	res.Status = run.StatusRunning
	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("poller panic: %v", r)
			p.logger.Error("poller failed", zap.String("run_id", runID), zap.Any("panic", r))
			if _, ferr := p.t.fail(context.WithoutCancel(ctx), runID, run.StatusRunning, cause, observedByPoller); ferr != nil {
				p.logger.Error("failed to record poller failure", zap.String("run_id", runID), zap.Error(ferr))
			}
			res.Status = run.StatusFailed
			err = cause
		}
	}()

	if err := cfg.Validate(); err != nil {
		cause := errors.Wrapf(err, "poll run %s", runID)
		if _, ferr := p.t.fail(ctx, runID, run.StatusRunning, cause, observedByPoller); ferr != nil {
			p.logger.Error("failed to record poller failure", zap.String("run_id", runID), zap.Error(ferr))
		}
		res.Status = run.StatusFailed
		return res, cause
	}

	key := artifactstore.MarkerKey(runID)
	if err := p.sleep(ctx, cfg.Grace); err != nil {
		return res, err
	}

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		res.Attempts = attempt
		found, err := p.check(ctx, key)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err != nil {
			p.logger.Warn("completion check failed",
				zap.String("run_id", runID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		if found {
			if _, err := p.t.complete(ctx, runID, observedByPoller, attempt); err != nil {
				p.logger.Debug("completion not recorded", zap.String("run_id", runID), zap.Error(err))
			}
			res.Status = run.StatusCompleted
			return res, nil
		}
		p.logger.Debug("completion marker not found",
			zap.String("run_id", runID),
			zap.Int("attempt", attempt),
			zap.Int("attempts", cfg.Attempts),
		)
		if err := p.sleep(ctx, cfg.Interval); err != nil {
			return res, err
		}
	}

	if _, err := p.t.timeout(ctx, runID, res.Attempts, cfg.TotalTimeout()); err != nil {
		p.logger.Debug("timeout not recorded", zap.String("run_id", runID), zap.Error(err))
	}
	res.Status = run.StatusTimedOut
	return res, nil
}

func (p *Poller) check(ctx context.Context, key string) (bool, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}
	found, err := p.store.Exists(ctx, key)
	if err != nil {
		return false, markTransient(err, key)
	}
	return found, nil
}
