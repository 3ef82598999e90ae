package orchestrator

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/3leaps/cloudres/pkg/artifactstore"
	"github.com/3leaps/cloudres/pkg/launcher"
	"github.com/3leaps/cloudres/pkg/manifest"
	"github.com/3leaps/cloudres/pkg/run"
	"github.com/3leaps/cloudres/pkg/samplesheet"
)

// URIResolver renders store keys as worker-visible locations.
type URIResolver interface {
	URI(key string) string
}

// Coordinator turns a registered run into a launched worker.
type Coordinator struct {
	launcher launcher.Launcher
	profile  *manifest.Profile
	outputs  URIResolver
	t        *transitioner
	logger   *zap.Logger
}

// Bundle builds the launcher bundle for a run.
func (c *Coordinator) Bundle(runID string, inputs []string) launcher.Bundle {
	paired := samplesheet.Pair(inputs)
	if len(paired.Unpaired) > 0 {
		c.logger.Warn("inputs without a reverse read",
			zap.String("run_id", runID),
			zap.Strings("unpaired", paired.Unpaired),
		)
	}
	return launcher.Bundle{
		RunID:      runID,
		Inputs:     append([]string(nil), inputs...),
		Samples:    paired.Samples,
		Profile:    c.profile,
		ResultsURI: c.outputs.URI(artifactstore.ResultsPrefix(runID)),
		MarkerURI:  c.outputs.URI(artifactstore.MarkerKey(runID)),
	}
}

// Launch invokes the launcher exactly once. Success moves the run to
// Running with the launch handle; failure moves it to Failed with the error
// and returns an error marked ErrLaunch. There is no retry.
func (c *Coordinator) Launch(ctx context.Context, runID string, inputs []string) (*run.Record, error) {
	info, err := c.launcher.Launch(ctx, c.Bundle(runID, inputs))
	if err != nil {
		launchErr := markLaunch(err, runID)
		c.logger.Error("launch failed", zap.String("run_id", runID), zap.Error(err))
		if _, ferr := c.t.fail(context.WithoutCancel(ctx), runID, run.StatusSubmitted, err, observedByCoordinator); ferr != nil {
			return nil, errors.CombineErrors(launchErr, ferr)
		}
		return nil, launchErr
	}

	rec, _, err := c.t.apply(ctx, runID, run.StatusSubmitted, run.Update{
		To:         run.StatusRunning,
		LaunchInfo: &info,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "record launch of run %s", runID)
	}
	if rec == nil {
		// Registry does not persist records.
		rec = &run.Record{RunID: runID, Status: run.StatusRunning, Inputs: inputs, LaunchInfo: &info}
	}
	return rec, nil
}
