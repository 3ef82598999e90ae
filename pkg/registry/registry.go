// Package registry persists run records and applies lifecycle transitions.
//
// Every backend validates transitions with run.Update.ApplyTo under its own
// serialization (mutex, transaction, or compare-and-set), so concurrent
// writers never move a run out of a terminal state and identical repeats are
// no-ops.
package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/3leaps/cloudres/pkg/run"
)

var (
	// ErrNotFound is returned by Transition for an unknown run id.
	ErrNotFound = errors.New("run not found")

	// ErrExists is returned by Create when the run id is already registered.
	ErrExists = errors.New("run already exists")
)

// Registry is the durable (or best-effort) run id → record mapping.
type Registry interface {
	// Create stores a new record. The run id must be unused.
	Create(ctx context.Context, rec *run.Record) error

	// Get returns a copy of the record. A missing run is (nil, false, nil).
	Get(ctx context.Context, runID string) (*run.Record, bool, error)

	// Transition applies u atomically and returns the resulting record and
	// whether the state changed. Rejected transitions return an error that
	// wraps run.ErrTerminalState or run.ErrInvalidTransition.
	Transition(ctx context.Context, runID string, u run.Update) (*run.Record, bool, error)

	// List returns records newest first.
	List(ctx context.Context, opts ListOptions) ([]*run.Record, error)

	Close() error
}

// ListOptions filters List results.
type ListOptions struct {
	// Statuses keeps only records in one of these states. Empty keeps all.
	Statuses []run.Status

	// Limit caps the number of records. Zero means no limit.
	Limit int
}

func (o ListOptions) keep(st run.Status) bool {
	if len(o.Statuses) == 0 {
		return true
	}
	for _, s := range o.Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// Clock returns the current time. Backends default to time.Now.
type Clock func() time.Time

func validateID(runID string) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("run_id is required")
	}
	return nil
}

// sortNewestFirst orders by created_at descending, then run id for ties.
func sortNewestFirst(recs []*run.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].RunID < recs[j].RunID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}

func applyLimit(recs []*run.Record, limit int) []*run.Record {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}
