package output

import (
	"context"

	"go.uber.org/zap"

	"github.com/3leaps/cloudres/pkg/run"
)

// Observer forwards lifecycle events to a Writer. Write failures are logged
// and never propagate back into the state machine.
type Observer struct {
	w      Writer
	logger *zap.Logger
}

// NewObserver returns an Observer writing to w.
func NewObserver(w Writer, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{w: w, logger: logger}
}

// Observe writes ev as a transition record.
func (o *Observer) Observe(ctx context.Context, ev run.Event) {
	if err := o.w.WriteTransition(ctx, ev); err != nil {
		o.logger.Warn("failed to write transition event",
			zap.String("run_id", ev.RunID),
			zap.String("status", ev.To.String()),
			zap.Error(err),
		)
	}
}
