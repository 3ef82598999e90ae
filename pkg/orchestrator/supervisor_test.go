package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_OneTaskPerName(t *testing.T) {
	s := NewSupervisor(nil)
	release := make(chan struct{})

	first, started := s.Go("poll/r1", func(context.Context) error {
		<-release
		return nil
	})
	require.True(t, started)

	again, started := s.Go("poll/r1", func(context.Context) error { return nil })
	assert.False(t, started)
	assert.Same(t, first, again)

	_, started = s.Go("poll/r2", func(context.Context) error { return nil })
	assert.True(t, started)

	got, ok := s.Lookup("poll/r1")
	assert.True(t, ok)
	assert.Same(t, first, got)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.Empty(t, s.Active())

	_, started = s.Go("poll/r1", func(context.Context) error { return nil })
	assert.True(t, started, "a finished name can be reused")
	require.NoError(t, s.Shutdown(ctx))
}

func TestSupervisor_FailuresAreObservable(t *testing.T) {
	s := NewSupervisor(nil)
	boom := errors.New("boom")

	failed, _ := s.Go("a", func(context.Context) error { return boom })
	panicked, _ := s.Go("b", func(context.Context) error { panic("bad state") })

	assert.ErrorIs(t, failed.Err(), boom)
	require.Error(t, panicked.Err())
	assert.Contains(t, panicked.Err().Error(), "bad state")
	<-failed.Done()
}

func TestSupervisor_ShutdownCancelsTasks(t *testing.T) {
	s := NewSupervisor(nil)
	task, _ := s.Go("wait", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.ErrorIs(t, task.Err(), context.Canceled)

	got, started := s.Go("after", func(context.Context) error { return nil })
	assert.Nil(t, got)
	assert.False(t, started)
}

func TestSupervisor_WaitHonorsContext(t *testing.T) {
	s := NewSupervisor(nil)
	release := make(chan struct{})
	defer close(release)
	s.Go("stuck", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}
