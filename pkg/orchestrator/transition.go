package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/3leaps/cloudres/pkg/registry"
	"github.com/3leaps/cloudres/pkg/run"
)

// Components that record transitions, stored in Summary.ObservedBy.
const (
	observedByCoordinator = "coordinator"
	observedByPoller      = "poller"
	observedByResolver    = "resolver"
	observedByManualCheck = "manual_check"
)

// transitioner is the single write path into the registry. The coordinator,
// poller, resolver and manual check all go through it.
type transitioner struct {
	registry registry.Registry
	observer Observer
	logger   *zap.Logger
}

// apply writes u and notifies the observer when the state changed. from is
// the state the caller expects to leave; it only labels the event.
func (t *transitioner) apply(ctx context.Context, runID string, from run.Status, u run.Update) (*run.Record, bool, error) {
	rec, changed, err := t.registry.Transition(ctx, runID, u)
	if err != nil {
		return nil, false, err
	}
	if changed {
		t.logger.Info("run transition",
			zap.String("run_id", runID),
			zap.String("from", from.String()),
			zap.String("status", u.To.String()),
		)
		if t.observer != nil && rec != nil {
			t.observer.Observe(ctx, run.Event{
				RunID:   runID,
				From:    from,
				To:      u.To,
				At:      rec.UpdatedAt,
				Summary: rec.Summary,
			})
		}
	}
	return rec, changed, nil
}

// complete records Running -> Completed. A run that is already Completed is
// a no-op; a registry that does not know the run is not an error.
func (t *transitioner) complete(ctx context.Context, runID, observedBy string, attempts int) (bool, error) {
	_, changed, err := t.apply(ctx, runID, run.StatusRunning, run.Update{
		To:      run.StatusCompleted,
		Summary: &run.Summary{ObservedBy: observedBy, Attempts: attempts},
	})
	if errors.Is(err, registry.ErrNotFound) {
		return false, nil
	}
	return changed, err
}

// timeout records Running -> TimedOut.
func (t *transitioner) timeout(ctx context.Context, runID string, attempts int, budget time.Duration) (bool, error) {
	err := errors.Mark(fmt.Errorf("no completion marker after %d checks (%s)", attempts, budget), ErrPollTimeout)
	_, changed, terr := t.apply(ctx, runID, run.StatusRunning, run.Update{
		To: run.StatusTimedOut,
		Summary: &run.Summary{
			Detail:     err.Error(),
			Attempts:   attempts,
			ObservedBy: observedByPoller,
		},
	})
	return changed, terr
}

// fail records from -> Failed with the error text.
func (t *transitioner) fail(ctx context.Context, runID string, from run.Status, cause error, observedBy string) (bool, error) {
	_, changed, err := t.apply(ctx, runID, from, run.Update{
		To: run.StatusFailed,
		Summary: &run.Summary{
			Error:      cause.Error(),
			ObservedBy: observedBy,
		},
	})
	return changed, err
}
