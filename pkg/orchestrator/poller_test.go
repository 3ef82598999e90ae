package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cloudres/pkg/artifactstore"
	"github.com/3leaps/cloudres/pkg/registry"
	"github.com/3leaps/cloudres/pkg/run"
)

func TestPoller_NeverSignalsTimesOutAfterFullBudget(t *testing.T) {
	h := newHarness(t)
	h.seedRunning(t, "r1")

	res, err := h.svc.poller.Poll(context.Background(), "r1", testPollerConfig)
	require.NoError(t, err)
	assert.Equal(t, run.StatusTimedOut, res.Status)
	assert.Equal(t, testPollerConfig.Attempts, res.Attempts)
	assert.Equal(t, testPollerConfig.Attempts, h.outputs.Checks())
	assert.Equal(t, testPollerConfig.TotalTimeout(), h.clock.Slept())

	rec, _, err := h.reg.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusTimedOut, rec.Status)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, testPollerConfig.Attempts, rec.Summary.Attempts)
	assert.Contains(t, rec.Summary.Detail, "no completion marker after 6 checks (35m0s)")
	assert.Equal(t, []string{"running->timed_out"}, h.events.Transitions("r1"))
}

func TestPoller_SignalAtAttemptK(t *testing.T) {
	cfg := testPollerConfig
	for _, k := range []int{1, 3, cfg.Attempts} {
		t.Run(fmt.Sprintf("attempt_%d", k), func(t *testing.T) {
			h := newHarness(t)
			h.seedRunning(t, "r1")
			h.outputs.appearAt = k
			start := h.clock.Now()

			res, err := h.svc.poller.Poll(context.Background(), "r1", cfg)
			require.NoError(t, err)
			assert.Equal(t, run.StatusCompleted, res.Status)
			assert.Equal(t, k, res.Attempts)
			assert.Equal(t, k, h.outputs.Checks(), "no attempts after the signal")

			observed := h.outputs.checkAt[k-1].Sub(start)
			assert.Equal(t, cfg.Grace+time.Duration(k-1)*cfg.Interval, observed)
			assert.LessOrEqual(t, observed, cfg.Grace+time.Duration(k)*cfg.Interval)
			assert.Equal(t, observed, h.clock.Slept(), "no wait after the signal")

			assert.Equal(t, run.StatusCompleted, h.status(t, "r1"))
			assert.Equal(t, []string{"running->completed"}, h.events.Transitions("r1"))
		})
	}
}

func TestPoller_TransientErrorsCountAsNotFound(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		h := newHarness(t)
		h.seedRunning(t, "r1")
		h.outputs.failN = 3
		h.outputs.failErr = errStoreDown
		h.outputs.appearAt = 5

		res, err := h.svc.poller.Poll(context.Background(), "r1", testPollerConfig)
		require.NoError(t, err)
		assert.Equal(t, run.StatusCompleted, res.Status)
		assert.Equal(t, 5, res.Attempts)
	})

	t.Run("never shortens the budget", func(t *testing.T) {
		h := newHarness(t)
		h.seedRunning(t, "r1")
		h.outputs.failN = 1000
		h.outputs.failErr = errStoreDown

		res, err := h.svc.poller.Poll(context.Background(), "r1", testPollerConfig)
		require.NoError(t, err)
		assert.Equal(t, run.StatusTimedOut, res.Status)
		assert.Equal(t, testPollerConfig.Attempts, h.outputs.Checks())
		assert.Equal(t, testPollerConfig.TotalTimeout(), h.clock.Slept())
		assert.Equal(t, run.StatusTimedOut, h.status(t, "r1"))
	})
}

func TestPoller_CheckErrorIsMarkedTransient(t *testing.T) {
	h := newHarness(t)
	h.outputs.failN = 1
	h.outputs.failErr = errStoreDown

	_, err := h.svc.poller.check(context.Background(), artifactstore.MarkerKey("r1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransientStore))
	assert.True(t, errors.Is(err, errStoreDown))
}

func TestPoller_CancelWritesNoState(t *testing.T) {
	t.Run("before grace", func(t *testing.T) {
		h := newHarness(t)
		h.seedRunning(t, "r1")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := h.svc.poller.Poll(ctx, "r1", testPollerConfig)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, run.StatusRunning, res.Status)
		assert.Equal(t, 0, h.outputs.Checks())
		assert.Equal(t, run.StatusRunning, h.status(t, "r1"))
	})

	t.Run("between attempts", func(t *testing.T) {
		h := newHarness(t)
		h.seedRunning(t, "r1")
		ctx, cancel := context.WithCancel(context.Background())
		h.clock.onSleep = func(n int, _ time.Duration) {
			if n == 2 {
				cancel()
			}
		}

		_, err := h.svc.poller.Poll(ctx, "r1", testPollerConfig)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, h.outputs.Checks())
		assert.Equal(t, run.StatusRunning, h.status(t, "r1"))
		assert.Empty(t, h.events.Transitions("r1"))
	})
}

func TestPoller_PanicRecordsFailed(t *testing.T) {
	h := newHarness(t)
	h.seedRunning(t, "r1")
	h.outputs.panicMsg = "nil map write"

	res, err := h.svc.poller.Poll(context.Background(), "r1", testPollerConfig)
	require.Error(t, err)
	assert.Equal(t, run.StatusFailed, res.Status)

	rec, _, err := h.reg.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, rec.Status)
	assert.Contains(t, rec.Summary.Error, "nil map write")
}

func TestPoller_InvalidBudgetRecordsFailed(t *testing.T) {
	h := newHarness(t)
	h.seedRunning(t, "r1")

	res, err := h.svc.poller.Poll(context.Background(), "r1", PollerConfig{Attempts: 0})
	require.Error(t, err)
	assert.Equal(t, run.StatusFailed, res.Status)
	assert.Equal(t, run.StatusFailed, h.status(t, "r1"))
}

func TestPoller_TerminalRunIsNotOverwritten(t *testing.T) {
	h := newHarness(t)
	h.seedRunning(t, "r1")
	_, _, err := h.reg.Transition(context.Background(), "r1", run.Update{To: run.StatusFailed})
	require.NoError(t, err)

	res, err := h.svc.poller.Poll(context.Background(), "r1", PollerConfig{Attempts: 2})
	require.NoError(t, err)
	assert.Equal(t, run.StatusTimedOut, res.Status)
	assert.Equal(t, run.StatusFailed, h.status(t, "r1"))
}

func TestPoller_DisabledRegistry(t *testing.T) {
	h := newHarness(t, withRegistry(registry.Disabled{}))
	require.NoError(t, h.outputs.Put(context.Background(), artifactstore.MarkerKey("r1"), nil))

	res, err := h.svc.poller.Poll(context.Background(), "r1", testPollerConfig)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, res.Status)
	assert.Empty(t, h.events.Transitions("r1"))
}

func TestCheckCompletion_ConcurrentWithPollerConverges(t *testing.T) {
	h := newHarness(t)
	h.seedRunning(t, "r1")
	require.NoError(t, h.outputs.Put(context.Background(), artifactstore.MarkerKey("r1"), nil))

	const checkers = 16
	var wg sync.WaitGroup
	errs := make(chan error, checkers+1)
	statuses := make(chan run.Status, checkers+1)

	wg.Add(checkers + 1)
	go func() {
		defer wg.Done()
		res, err := h.svc.poller.Poll(context.Background(), "r1", PollerConfig{Attempts: 3})
		errs <- err
		statuses <- res.Status
	}()
	for i := 0; i < checkers; i++ {
		go func() {
			defer wg.Done()
			st, err := h.svc.CheckCompletion(context.Background(), "r1")
			errs <- err
			statuses <- st
		}()
	}
	wg.Wait()
	close(errs)
	close(statuses)

	for err := range errs {
		assert.NoError(t, err)
	}
	for st := range statuses {
		assert.Equal(t, run.StatusCompleted, st)
	}
	assert.Equal(t, run.StatusCompleted, h.status(t, "r1"))
	assert.Equal(t, []string{"running->completed"}, h.events.Transitions("r1"), "exactly one applied transition")
}

func TestCheckCompletion(t *testing.T) {
	h := newHarness(t)
	h.seedRunning(t, "r1")

	st, err := h.svc.CheckCompletion(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusRunning, st)

	h.outputs.failN = 1000
	h.outputs.failErr = errStoreDown
	_, err = h.svc.CheckCompletion(context.Background(), "r1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetrievalFailure))
	assert.Equal(t, run.StatusRunning, h.status(t, "r1"))

	st, err = h.svc.CheckCompletion(context.Background(), "test-1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, st)

	_, err = h.svc.CheckCompletion(context.Background(), "../x")
	assert.True(t, errors.Is(err, ErrInvalidRunID))
}
