package launcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/cloudres/pkg/artifactstore"
	"github.com/3leaps/cloudres/pkg/run"
)

// ObjectWriter is the store capability DryRun needs.
type ObjectWriter interface {
	Put(ctx context.Context, key string, data []byte) error
}

// DryRun renders the bundle into the output store instead of starting a
// worker. Nothing writes a completion marker, so runs time out unless one is
// placed by hand.
type DryRun struct {
	store  ObjectWriter
	logger *zap.Logger
	now    func() time.Time
}

var _ Launcher = (*DryRun)(nil)

// NewDryRun returns a DryRun launcher writing to store.
func NewDryRun(store ObjectWriter, logger *zap.Logger) *DryRun {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRun{store: store, logger: logger, now: time.Now}
}

// BootstrapKey is where DryRun writes the rendered bootstrap script.
func BootstrapKey(runID string) string {
	return runID + "/bootstrap.sh"
}

// Launch writes {run_id}/params.json and {run_id}/bootstrap.sh.
func (l *DryRun) Launch(ctx context.Context, b Bundle) (run.LaunchInfo, error) {
	script, err := RenderBootstrap(b)
	if err != nil {
		return run.LaunchInfo{}, err
	}
	params, err := ParamsJSON(b)
	if err != nil {
		return run.LaunchInfo{}, err
	}

	if err := l.store.Put(ctx, artifactstore.ParamsKey(b.RunID), params); err != nil {
		return run.LaunchInfo{}, &LaunchError{Backend: BackendDryRun, RunID: b.RunID, Err: err}
	}
	if err := l.store.Put(ctx, BootstrapKey(b.RunID), []byte(script)); err != nil {
		return run.LaunchInfo{}, &LaunchError{Backend: BackendDryRun, RunID: b.RunID, Err: err}
	}

	l.logger.Info("dry-run launch written", zap.String("run_id", b.RunID))
	return run.LaunchInfo{
		Provider:   BackendDryRun,
		ID:         "dryrun-" + b.RunID,
		LaunchedAt: l.now().UTC(),
	}, nil
}
