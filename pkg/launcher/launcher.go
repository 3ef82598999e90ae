// Package launcher starts the ephemeral compute worker for a run.
//
// A Launcher receives a typed Bundle and is responsible for rendering it into
// whatever the backend executes (EC2 user data, a Batch command override, a
// dry-run params file). Callers never build executable text themselves.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/3leaps/cloudres/pkg/manifest"
	"github.com/3leaps/cloudres/pkg/run"
	"github.com/3leaps/cloudres/pkg/samplesheet"
)

// Backend names used in LaunchInfo.Provider and configuration.
const (
	BackendEC2    = "ec2"
	BackendBatch  = "batch"
	BackendDryRun = "dryrun"
)

// ErrInvalidBundle is returned when a Bundle is missing required fields or
// carries values that cannot be passed to a worker.
var ErrInvalidBundle = errors.New("invalid launch bundle")

// Launcher starts exactly one external worker per call.
type Launcher interface {
	Launch(ctx context.Context, b Bundle) (run.LaunchInfo, error)
}

// Bundle is the parameter bundle handed to the worker.
type Bundle struct {
	RunID string

	// Inputs are the staged input locations (s3://bucket/key).
	Inputs []string

	// Samples are the paired inputs, used for the sample sheet.
	Samples []samplesheet.Sample

	// Profile selects the pipeline and its parameters.
	Profile *manifest.Profile

	// ResultsURI is where the worker syncs pipeline output.
	ResultsURI string

	// MarkerURI is the completion marker the worker writes last.
	MarkerURI string
}

// Validate checks that the bundle can be rendered.
func (b Bundle) Validate() error {
	var missing []string
	if b.RunID == "" {
		missing = append(missing, "run id")
	}
	if len(b.Inputs) == 0 {
		missing = append(missing, "inputs")
	}
	if b.Profile == nil {
		missing = append(missing, "pipeline profile")
	}
	if b.ResultsURI == "" {
		missing = append(missing, "results uri")
	}
	if b.MarkerURI == "" {
		missing = append(missing, "marker uri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidBundle, strings.Join(missing, ", "))
	}

	fields := map[string]string{"run id": b.RunID, "results uri": b.ResultsURI, "marker uri": b.MarkerURI}
	for i, in := range b.Inputs {
		fields[fmt.Sprintf("input %d", i)] = in
	}
	for i, s := range b.Samples {
		fields[fmt.Sprintf("sample %d", i)] = s.Name + s.Read1 + s.Read2
	}
	var bad []string
	for name, v := range fields {
		if strings.IndexFunc(v, unicode.IsControl) >= 0 {
			bad = append(bad, name)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("%w: control characters in %s", ErrInvalidBundle, strings.Join(bad, ", "))
	}
	return nil
}

// LaunchError wraps a backend failure with the run it belongs to.
type LaunchError struct {
	Backend string
	RunID   string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("%s launch for run %s: %v", e.Backend, e.RunID, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
