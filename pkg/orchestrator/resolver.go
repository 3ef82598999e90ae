package orchestrator

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/3leaps/cloudres/pkg/artifactstore"
	"github.com/3leaps/cloudres/pkg/match"
	"github.com/3leaps/cloudres/pkg/provider"
	"github.com/3leaps/cloudres/pkg/registry"
	"github.com/3leaps/cloudres/pkg/run"
)

// MockResultTSV is served for run ids with the reserved example prefix.
const MockResultTSV = "sample,species,ST,hits\nTESTDATA123,Escherichia coli,131,blaCTX-M-15:100.00:936/956"

// Content types of served artifacts.
const (
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeHTML = "text/html; charset=utf-8"
)

// Outcome distinguishes a served artifact from "not ready yet".
type Outcome int

const (
	OutcomeNotReady Outcome = iota
	OutcomeReady
)

// String returns "ready" or "not_ready".
func (o Outcome) String() string {
	if o == OutcomeReady {
		return "ready"
	}
	return "not_ready"
}

// ReportKind selects a report.
type ReportKind string

const (
	// ReportQuality is the aggregated quality report at a fixed key.
	ReportQuality ReportKind = "quality"

	// ReportExecution is the newest pipeline execution report.
	ReportExecution ReportKind = "execution"
)

// ParseReportKind accepts the kind names and their tool aliases.
func ParseReportKind(s string) (ReportKind, error) {
	switch strings.ToLower(s) {
	case "quality", "multiqc":
		return ReportQuality, nil
	case "execution", "nextflow":
		return ReportExecution, nil
	}
	return "", errors.Newf("unknown report kind %q", s)
}

// Artifact is a located output file.
type Artifact struct {
	Key         string
	ContentType string
	Body        []byte
}

// FetchResult is either a ready artifact or a not-ready reason.
type FetchResult struct {
	Outcome  Outcome
	Artifact *Artifact

	// Reason explains a not-ready outcome.
	Reason string

	// Status is the run status seen while resolving, when known.
	Status run.Status
}

func notReady(reason string, st run.Status) FetchResult {
	return FetchResult{Outcome: OutcomeNotReady, Reason: reason, Status: st}
}

var (
	primarySelector   = match.PrimaryResult.MustCompile()
	executionSelector = match.ExecutionReport.MustCompile()
)

// Resolver answers whether a run is done and where its outputs are.
type Resolver struct {
	registry registry.Registry
	store    artifactstore.Store
	limiter  *rate.Limiter
	t        *transitioner
	logger   *zap.Logger

	markers singleflight.Group
}

// markerExists checks the completion marker. Concurrent checks for the same
// run share one store request.
func (r *Resolver) markerExists(ctx context.Context, runID string) (bool, error) {
	key := artifactstore.MarkerKey(runID)
	// The shared call outlives any one caller's cancellation.
	sharedCtx := context.WithoutCancel(ctx)
	v, err, _ := r.markers.Do(key, func() (any, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(sharedCtx); err != nil {
				return false, err
			}
		}
		return r.store.Exists(sharedCtx, key)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// lookup returns the registry status, or "" when the registry does not know
// the run or cannot be read.
func (r *Resolver) lookup(ctx context.Context, runID string) run.Status {
	rec, found, err := r.registry.Get(ctx, runID)
	if err != nil {
		r.logger.Warn("registry read failed, falling back to store", zap.String("run_id", runID), zap.Error(err))
		return ""
	}
	if !found {
		return ""
	}
	return rec.Status
}

// isComplete trusts a Completed registry entry; otherwise it checks the
// marker and records Completed when found. A run the registry already holds
// in another terminal state keeps that status.
func (r *Resolver) isComplete(ctx context.Context, runID, observedBy string) (bool, run.Status, error) {
	st := r.lookup(ctx, runID)
	if st == run.StatusCompleted {
		return true, st, nil
	}
	found, err := r.markerExists(ctx, runID)
	if err != nil {
		return false, st, markRetrieval(err, artifactstore.MarkerKey(runID))
	}
	if !found {
		return false, st, nil
	}
	if _, err := r.t.complete(ctx, runID, observedBy, 0); err != nil {
		if errors.Is(err, run.ErrTerminalState) {
			// The registry settled first; its terminal status stands.
			if terminal := r.lookup(ctx, runID); terminal != "" {
				return true, terminal, nil
			}
		}
		r.logger.Debug("completion not recorded", zap.String("run_id", runID), zap.Error(err))
	}
	return true, run.StatusCompleted, nil
}

// PrimaryResult resolves the run's result table.
func (r *Resolver) PrimaryResult(ctx context.Context, runID string) (FetchResult, error) {
	if IsMockRun(runID) {
		return FetchResult{
			Outcome:  OutcomeReady,
			Status:   run.StatusCompleted,
			Artifact: &Artifact{Key: runID + "/mock", ContentType: ContentTypeText, Body: []byte(MockResultTSV)},
		}, nil
	}

	done, st, err := r.isComplete(ctx, runID, observedByResolver)
	if err != nil {
		return FetchResult{}, err
	}
	if !done {
		if st == "" {
			st = run.StatusRunning
		}
		return notReady("pipeline status: "+st.String(), st), nil
	}

	prefix := artifactstore.PrimaryResultPrefix(runID)
	keys, err := r.store.List(ctx, prefix)
	if err != nil {
		return FetchResult{}, markRetrieval(err, prefix)
	}
	key, ok := primarySelector.Select(prefix, keys)
	if !ok {
		return notReady(missingReason(match.PrimaryResult.Name), st), nil
	}
	return r.get(ctx, key, ContentTypeText, st)
}

// Report resolves a report. Reports are served as soon as they exist,
// whether or not the run has completed.
func (r *Resolver) Report(ctx context.Context, runID string, kind ReportKind) (FetchResult, error) {
	switch kind {
	case ReportQuality:
		return r.get(ctx, artifactstore.QualityReportKey(runID), ContentTypeHTML, "")
	case ReportExecution:
		prefix := artifactstore.ExecutionReportPrefix(runID)
		keys, err := r.store.List(ctx, prefix)
		if err != nil {
			return FetchResult{}, markRetrieval(err, prefix)
		}
		key, ok := executionSelector.Select(prefix, keys)
		if !ok {
			return notReady(missingReason(match.ExecutionReport.Name), ""), nil
		}
		return r.get(ctx, key, ContentTypeHTML, "")
	default:
		return FetchResult{}, errors.Newf("unknown report kind %q", kind)
	}
}

func (r *Resolver) get(ctx context.Context, key, contentType string, st run.Status) (FetchResult, error) {
	body, err := r.store.Get(ctx, key)
	if err != nil {
		if provider.IsNotFound(err) {
			return notReady(missingReason(key), st), nil
		}
		return FetchResult{}, markRetrieval(err, key)
	}
	return FetchResult{
		Outcome:  OutcomeReady,
		Status:   st,
		Artifact: &Artifact{Key: key, ContentType: contentType, Body: body},
	}, nil
}

func missingReason(what string) string {
	return errors.Wrap(ErrArtifactMissing, what).Error()
}
