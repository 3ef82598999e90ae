package orchestrator

import (
	"context"

	"github.com/3leaps/cloudres/pkg/run"
)

// Observer receives every applied transition. Observe must not block for
// long; it runs on the goroutine that applied the transition.
type Observer interface {
	Observe(ctx context.Context, ev run.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev run.Event)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, ev run.Event) { f(ctx, ev) }

// Observers fans an event out to several observers in order.
type Observers []Observer

// Observe calls every non-nil observer.
func (o Observers) Observe(ctx context.Context, ev run.Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, ev)
		}
	}
}
