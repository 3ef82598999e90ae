package registry

import (
	"context"

	"github.com/3leaps/cloudres/pkg/run"
)

// Disabled is a stub Registry: it accepts writes, stores nothing, and always
// reports runs as not found. Callers fall back to object-store checks.
type Disabled struct{}

var _ Registry = Disabled{}

func (Disabled) Create(context.Context, *run.Record) error { return nil }

func (Disabled) Get(context.Context, string) (*run.Record, bool, error) {
	return nil, false, nil
}

// Transition is a no-op returning a nil record.
func (Disabled) Transition(context.Context, string, run.Update) (*run.Record, bool, error) {
	return nil, false, nil
}

func (Disabled) List(context.Context, ListOptions) ([]*run.Record, error) { return nil, nil }

func (Disabled) Close() error { return nil }
