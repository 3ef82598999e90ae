package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/3leaps/cloudres/pkg/run"
)

// Memory is a process-local Registry. Records do not survive restarts.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*run.Record
	now     Clock
}

var _ Registry = (*Memory)(nil)

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*run.Record), now: time.Now}
}

// WithClock overrides the timestamp source for transitions.
func (m *Memory) WithClock(c Clock) *Memory {
	m.now = c
	return m
}

func (m *Memory) Create(ctx context.Context, rec *run.Record) error {
	if err := validateID(rec.RunID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.RunID]; ok {
		return fmt.Errorf("create %s: %w", rec.RunID, ErrExists)
	}
	m.records[rec.RunID] = rec.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, runID string) (*run.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[runID]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *Memory) Transition(ctx context.Context, runID string, u run.Update) (*run.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[runID]
	if !ok {
		return nil, false, fmt.Errorf("transition %s: %w", runID, ErrNotFound)
	}
	changed, err := u.ApplyTo(rec, m.now())
	if err != nil {
		return rec.Clone(), false, err
	}
	return rec.Clone(), changed, nil
}

func (m *Memory) List(ctx context.Context, opts ListOptions) ([]*run.Record, error) {
	m.mu.RLock()
	out := make([]*run.Record, 0, len(m.records))
	for _, rec := range m.records {
		if opts.keep(rec.Status) {
			out = append(out, rec.Clone())
		}
	}
	m.mu.RUnlock()
	sortNewestFirst(out)
	return applyLimit(out, opts.Limit), nil
}

func (m *Memory) Close() error { return nil }
