package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cloudres/pkg/run"
)

type backend struct {
	name string
	open func(t *testing.T) Registry
}

func backends(t *testing.T) []backend {
	t.Helper()
	out := []backend{
		{"memory", func(t *testing.T) Registry { return NewMemory() }},
		{"file", func(t *testing.T) Registry { return NewFile(filepath.Join(t.TempDir(), "runs")) }},
		{"sqlite", func(t *testing.T) Registry {
			r, err := OpenSQL(context.Background(), SQLConfig{Path: filepath.Join(t.TempDir(), "registry.db")})
			require.NoError(t, err)
			return r
		}},
	}
	if url := os.Getenv("CLOUDRES_TEST_DATABASE_URL"); url != "" {
		out = append(out, backend{"postgres", func(t *testing.T) Registry {
			r, err := ConnectPostgres(context.Background(), url)
			require.NoError(t, err)
			_, err = r.pool.Exec(context.Background(), `TRUNCATE pipeline_runs`)
			require.NoError(t, err)
			return r
		}})
	}
	return out
}

func TestRegistry_Lifecycle(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			reg := b.open(t)
			defer func() { _ = reg.Close() }()
			ctx := context.Background()

			created := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
			rec := run.New("run-1", []string{"s3://cloudresinput/run-1/a_R1.fastq.gz"}, created)
			require.NoError(t, reg.Create(ctx, rec))
			require.ErrorIs(t, reg.Create(ctx, rec), ErrExists)

			got, found, err := reg.Get(ctx, "run-1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, run.StatusSubmitted, got.Status)
			assert.True(t, created.Equal(got.CreatedAt))
			assert.Equal(t, rec.Inputs, got.Inputs)

			got, changed, err := reg.Transition(ctx, "run-1", run.Update{
				To:         run.StatusRunning,
				LaunchInfo: &run.LaunchInfo{Provider: "ec2", ID: "i-0abc"},
			})
			require.NoError(t, err)
			assert.True(t, changed)
			assert.Equal(t, run.StatusRunning, got.Status)

			got, changed, err = reg.Transition(ctx, "run-1", run.Update{To: run.StatusCompleted})
			require.NoError(t, err)
			assert.True(t, changed)
			require.NotNil(t, got.LaunchInfo)
			assert.Equal(t, "i-0abc", got.LaunchInfo.ID)

			_, changed, err = reg.Transition(ctx, "run-1", run.Update{To: run.StatusCompleted})
			require.NoError(t, err)
			assert.False(t, changed)

			_, _, err = reg.Transition(ctx, "run-1", run.Update{To: run.StatusTimedOut, Summary: &run.Summary{Detail: "late"}})
			require.ErrorIs(t, err, run.ErrTerminalState)

			got, _, err = reg.Get(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, run.StatusCompleted, got.Status)
			assert.Nil(t, got.Summary)
		})
	}
}

func TestRegistry_MissingRun(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			reg := b.open(t)
			defer func() { _ = reg.Close() }()
			ctx := context.Background()

			rec, found, err := reg.Get(ctx, "nope")
			require.NoError(t, err)
			assert.False(t, found)
			assert.Nil(t, rec)

			_, _, err = reg.Transition(ctx, "nope", run.Update{To: run.StatusRunning})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRegistry_ConcurrentTerminalWrites(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			reg := b.open(t)
			defer func() { _ = reg.Close() }()
			ctx := context.Background()

			require.NoError(t, reg.Create(ctx, run.New("run-c", nil, time.Now())))
			_, _, err := reg.Transition(ctx, "run-c", run.Update{To: run.StatusRunning})
			require.NoError(t, err)

			const writers = 8
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				changes int
				errs    []error
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, changed, err := reg.Transition(ctx, "run-c", run.Update{To: run.StatusCompleted})
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, err)
					}
					if changed {
						changes++
					}
				}()
			}
			wg.Wait()

			assert.Empty(t, errs)
			assert.Equal(t, 1, changes)
			got, _, err := reg.Get(ctx, "run-c")
			require.NoError(t, err)
			assert.Equal(t, run.StatusCompleted, got.Status)
		})
	}
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			reg := b.open(t)
			defer func() { _ = reg.Close() }()
			ctx := context.Background()

			t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
			require.NoError(t, reg.Create(ctx, run.New("run-a", nil, t1)))
			require.NoError(t, reg.Create(ctx, run.New("run-b", nil, t1.Add(time.Hour))))
			require.NoError(t, reg.Create(ctx, run.New("run-c", nil, t1.Add(2*time.Hour))))
			_, _, err := reg.Transition(ctx, "run-b", run.Update{To: run.StatusRunning})
			require.NoError(t, err)

			all, err := reg.List(ctx, ListOptions{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "run-c", all[0].RunID)
			assert.Equal(t, "run-a", all[2].RunID)

			running, err := reg.List(ctx, ListOptions{Statuses: []run.Status{run.StatusRunning}})
			require.NoError(t, err)
			require.Len(t, running, 1)
			assert.Equal(t, "run-b", running[0].RunID)

			limited, err := reg.List(ctx, ListOptions{Limit: 2})
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()
	require.NoError(t, reg.Create(ctx, run.New("run-1", []string{"a"}, time.Now())))

	got, _, err := reg.Get(ctx, "run-1")
	require.NoError(t, err)
	got.Status = run.StatusFailed
	got.Inputs[0] = "mutated"

	again, _, err := reg.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusSubmitted, again.Status)
	assert.Equal(t, "a", again.Inputs[0])
}

func TestFile_RejectsPathLikeIDs(t *testing.T) {
	reg := NewFile(t.TempDir())
	err := reg.Create(context.Background(), run.New("../escape", nil, time.Now()))
	require.Error(t, err)
}

func TestDisabled(t *testing.T) {
	var reg Registry = Disabled{}
	ctx := context.Background()

	require.NoError(t, reg.Create(ctx, run.New("run-1", nil, time.Now())))
	rec, found, err := reg.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, rec)

	rec, changed, err := reg.Transition(ctx, "run-1", run.Update{To: run.StatusCompleted})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, rec)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	r, err := Open(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, r)

	r, err = Open(ctx, Config{Driver: "disabled"})
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, r)

	r, err = Open(ctx, Config{Driver: "file", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &File{}, r)

	_, err = Open(ctx, Config{Driver: "file"})
	require.Error(t, err)

	_, err = Open(ctx, Config{Driver: "postgres"})
	require.Error(t, err)

	_, err = Open(ctx, Config{Driver: "mongo"})
	require.Error(t, err)
}
