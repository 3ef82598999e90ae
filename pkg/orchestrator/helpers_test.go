package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cloudres/pkg/artifactstore"
	"github.com/3leaps/cloudres/pkg/launcher"
	"github.com/3leaps/cloudres/pkg/registry"
	"github.com/3leaps/cloudres/pkg/run"
)

// virtualClock advances only when something sleeps on it.
type virtualClock struct {
	mu     sync.Mutex
	now    time.Time
	slept  time.Duration
	sleeps []time.Duration

	// onSleep runs before the clock advances.
	onSleep func(n int, d time.Duration)
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook(n, d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *virtualClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

// markerStore wraps a MemoryStore and counts marker checks. When appearAt is
// positive the marker is written just before the appearAt-th check.
type markerStore struct {
	*artifactstore.MemoryStore

	mu       sync.Mutex
	clock    *virtualClock
	appearAt int
	checks   int
	checkAt  []time.Time
	failN    int
	failErr  error
	panicMsg string
}

func newMarkerStore(clock *virtualClock) *markerStore {
	return &markerStore{MemoryStore: artifactstore.NewMemoryStore("cloudresoutput"), clock: clock}
}

func (m *markerStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	if strings.HasSuffix(key, "/"+artifactstore.MarkerName) {
		m.checks++
		if m.clock != nil {
			m.checkAt = append(m.checkAt, m.clock.Now())
		}
		if m.panicMsg != "" {
			msg := m.panicMsg
			m.mu.Unlock()
			panic(msg)
		}
		if m.checks <= m.failN {
			m.mu.Unlock()
			return false, m.failErr
		}
		if m.appearAt > 0 && m.checks == m.appearAt {
			_ = m.MemoryStore.Put(ctx, key, nil)
		}
	}
	m.mu.Unlock()
	return m.MemoryStore.Exists(ctx, key)
}

func (m *markerStore) Checks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}

// fakeLauncher records bundles and returns a fixed handle or error.
type fakeLauncher struct {
	mu      sync.Mutex
	bundles []launcher.Bundle
	err     error
}

func (f *fakeLauncher) Launch(_ context.Context, b launcher.Bundle) (run.LaunchInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundles = append(f.bundles, b)
	if f.err != nil {
		return run.LaunchInfo{}, f.err
	}
	return run.LaunchInfo{Provider: "fake", ID: "w-" + b.RunID, LaunchedAt: time.Now().UTC()}, nil
}

func (f *fakeLauncher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bundles)
}

// eventLog records observed transitions.
type eventLog struct {
	mu     sync.Mutex
	events []run.Event
}

func (l *eventLog) Observe(_ context.Context, ev run.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) Transitions(runID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		if ev.RunID == runID {
			out = append(out, ev.From.String()+"->"+ev.To.String())
		}
	}
	return out
}

type harness struct {
	svc      *Service
	reg      registry.Registry
	inputs   *artifactstore.MemoryStore
	outputs  *markerStore
	launcher *fakeLauncher
	clock    *virtualClock
	events   *eventLog
}

type harnessOption func(*Deps, *Config)

func withRegistry(r registry.Registry) harnessOption {
	return func(d *Deps, _ *Config) { d.Registry = r }
}

func withConfig(fn func(*Config)) harnessOption {
	return func(_ *Deps, c *Config) { fn(c) }
}

var testPollerConfig = PollerConfig{Grace: 5 * time.Minute, Interval: 5 * time.Minute, Attempts: 6}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	clock := newVirtualClock()
	h := &harness{
		reg:      registry.NewMemory().WithClock(clock.Now),
		inputs:   artifactstore.NewMemoryStore("cloudresinput"),
		outputs:  newMarkerStore(clock),
		launcher: &fakeLauncher{},
		clock:    clock,
		events:   &eventLog{},
	}

	ids := 0
	deps := Deps{
		Registry: h.reg,
		Inputs:   h.inputs,
		Outputs:  h.outputs,
		Launcher: h.launcher,
		Observer: h.events,
		Clock:    clock.Now,
		Sleeper:  clock.Sleep,
		NewRunID: func() string {
			ids++
			return fmt.Sprintf("run-%d", ids)
		},
	}
	cfg := DefaultConfig()
	cfg.Poller = testPollerConfig
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	h.reg = deps.Registry

	svc, err := New(deps, cfg)
	require.NoError(t, err)
	h.svc = svc
	t.Cleanup(func() {
		_ = svc.Shutdown(context.Background())
	})
	return h
}

// wait blocks until every background task has returned.
func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Supervisor().Wait(ctx))
}

// seedRunning registers runID as Running.
func (h *harness) seedRunning(t *testing.T, runID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.reg.Create(ctx, run.New(runID, []string{"s3://cloudresinput/" + runID + "/x_R1.fq"}, h.clock.Now())))
	_, _, err := h.reg.Transition(ctx, runID, run.Update{
		To:         run.StatusRunning,
		LaunchInfo: &run.LaunchInfo{Provider: "fake", ID: "w", LaunchedAt: h.clock.Now()},
	})
	require.NoError(t, err)
}

func (h *harness) status(t *testing.T, runID string) run.Status {
	t.Helper()
	rec, found, err := h.reg.Get(context.Background(), runID)
	require.NoError(t, err)
	require.True(t, found)
	return rec.Status
}

var errStoreDown = errors.New("connection reset by peer")
