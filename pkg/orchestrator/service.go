// Package orchestrator drives runs through their lifecycle: it registers a
// submission, launches the external worker, polls the artifact store for the
// completion marker and resolves outputs as they appear.
//
// Components communicate only through the registry and the artifact store.
// The registry is the single source of truth for status; the store is
// consulted directly whenever the registry cannot answer.
package orchestrator

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/3leaps/cloudres/pkg/artifactstore"
	"github.com/3leaps/cloudres/pkg/launcher"
	"github.com/3leaps/cloudres/pkg/manifest"
	"github.com/3leaps/cloudres/pkg/registry"
	"github.com/3leaps/cloudres/pkg/run"
)

// Deps are the injected collaborators.
type Deps struct {
	Registry registry.Registry

	// Inputs receives uploaded files; Outputs holds results and markers.
	Inputs  artifactstore.Store
	Outputs artifactstore.Store

	Launcher launcher.Launcher
	Profile  *manifest.Profile

	Logger   *zap.Logger
	Observer Observer

	// Clock, Sleeper and NewRunID default to the real implementations.
	Clock    Clock
	Sleeper  Sleeper
	NewRunID func() string
}

// Service is the orchestrator facade used by the HTTP server and the CLI.
type Service struct {
	cfg        Config
	deps       Deps
	logger     *zap.Logger
	now        Clock
	newID      func() string
	t          *transitioner
	coord      *Coordinator
	poller     *Poller
	resolver   *Resolver
	supervisor *Supervisor
}

// New validates deps and cfg and returns a Service.
func New(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case deps.Inputs == nil || deps.Outputs == nil:
		return nil, errors.New("orchestrator: input and output stores are required")
	case deps.Launcher == nil:
		return nil, errors.New("orchestrator: launcher is required")
	}
	if err := cfg.Poller.Validate(); err != nil {
		return nil, errors.Wrap(err, "orchestrator")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Profile == nil {
		deps.Profile = manifest.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Sleeper == nil {
		deps.Sleeper = SleepContext
	}
	if deps.NewRunID == nil {
		deps.NewRunID = NewRunID
	}

	limiter := cfg.Limiter()
	t := &transitioner{registry: deps.Registry, observer: deps.Observer, logger: logger}

	return &Service{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    deps.Clock,
		newID:  deps.NewRunID,
		t:      t,
		coord: &Coordinator{
			launcher: deps.Launcher,
			profile:  deps.Profile,
			outputs:  deps.Outputs,
			t:        t,
			logger:   logger,
		},
		poller: &Poller{
			store:   deps.Outputs,
			limiter: limiter,
			sleep:   deps.Sleeper,
			t:       t,
			logger:  logger,
		},
		resolver: &Resolver{
			registry: deps.Registry,
			store:    deps.Outputs,
			limiter:  limiter,
			t:        t,
			logger:   logger,
		},
		supervisor: NewSupervisor(logger),
	}, nil
}

// Config returns the active configuration.
func (s *Service) Config() Config { return s.cfg }

// Supervisor exposes the background task supervisor.
func (s *Service) Supervisor() *Supervisor { return s.supervisor }

// launchTaskName and pollTaskName key supervised tasks. One poller per run.
func launchTaskName(runID string) string { return "launch/" + runID }
func pollTaskName(runID string) string { return "poll/" + runID }

// Submit registers a run for inputs already in the store and launches it in
// the background. It returns as soon as the run is recorded as Submitted.
func (s *Service) Submit(ctx context.Context, inputs []string) (string, error) {
	runID := s.newID()
	if err := s.register(ctx, runID, inputs); err != nil {
		return "", err
	}
	s.supervisor.Go(launchTaskName(runID), func(ctx context.Context) error {
		return s.launchAndWatch(ctx, runID, inputs)
	})
	return runID, nil
}

// Launch registers and launches a run synchronously and returns the record
// after the launch outcome has been recorded. The poller is started unless
// pollers are disabled.
func (s *Service) Launch(ctx context.Context, inputs []string) (*run.Record, error) {
	runID := s.newID()
	if err := s.register(ctx, runID, inputs); err != nil {
		return nil, err
	}
	rec, err := s.coord.Launch(ctx, runID, inputs)
	if err != nil {
		return nil, err
	}
	s.startPoller(runID, s.cfg.Poller)
	return rec, nil
}

func (s *Service) register(ctx context.Context, runID string, inputs []string) error {
	if err := ValidateInputs(inputs); err != nil {
		return err
	}
	if err := ValidateRunID(runID); err != nil {
		return err
	}
	if err := s.deps.Registry.Create(ctx, run.New(runID, inputs, s.now())); err != nil {
		return errors.Wrapf(err, "register run %s", runID)
	}
	s.logger.Info("run submitted", zap.String("run_id", runID), zap.Int("inputs", len(inputs)))
	return nil
}

func (s *Service) launchAndWatch(ctx context.Context, runID string, inputs []string) error {
	if _, err := s.coord.Launch(ctx, runID, inputs); err != nil {
		return err
	}
	s.startPoller(runID, s.cfg.Poller)
	return nil
}

// startPoller starts the run's poller unless one is already active.
func (s *Service) startPoller(runID string, cfg PollerConfig) bool {
	if s.cfg.DisablePollers {
		return false
	}
	_, started := s.supervisor.Go(pollTaskName(runID), func(ctx context.Context) error {
		res, err := s.poller.Poll(ctx, runID, cfg)
		if err != nil {
			return err
		}
		s.logger.Info("poller finished",
			zap.String("run_id", runID),
			zap.String("status", res.Status.String()),
			zap.Int("attempts", res.Attempts),
		)
		return nil
	})
	return started
}

// UploadFile is one multipart file handed to Upload.
type UploadFile struct {
	Name string

	// Size is the content length, or -1 when unknown.
	Size int64

	Body io.Reader
}

type streamPutter interface {
	PutStream(ctx context.Context, key string, r io.Reader, size int64) error
}

// Upload stages files at {run_id}/{filename} in the input store and submits
// the run with the staged locations.
func (s *Service) Upload(ctx context.Context, files []UploadFile) (string, error) {
	if len(files) == 0 {
		return "", ErrNoInputs
	}
	runID := s.newID()
	if err := ValidateRunID(runID); err != nil {
		return "", err
	}

	names, err := uploadNames(files)
	if err != nil {
		return "", err
	}

	inputs := make([]string, 0, len(files))
	for i, f := range files {
		key := artifactstore.InputKey(runID, names[i])
		if err := s.put(ctx, key, f); err != nil {
			return "", errors.Wrapf(err, "stage %s", names[i])
		}
		inputs = append(inputs, s.deps.Inputs.URI(key))
	}

	if err := s.register(ctx, runID, inputs); err != nil {
		return "", err
	}
	s.supervisor.Go(launchTaskName(runID), func(ctx context.Context) error {
		return s.launchAndWatch(ctx, runID, inputs)
	})
	return runID, nil
}

// uploadNames returns the base name each file is staged under. Names must be
// unique within a run; nothing is staged when one is rejected.
func uploadNames(files []UploadFile) ([]string, error) {
	names := make([]string, len(files))
	seen := make(map[string]bool, len(files))
	for i, f := range files {
		name := path.Base("/" + strings.ReplaceAll(f.Name, "\\", "/"))
		switch {
		case name == "/" || name == "." || name == "..":
			return nil, errors.Mark(errors.Newf("invalid upload filename %q", f.Name), ErrInvalidInput)
		case hasControl(name):
			return nil, errors.Mark(errors.Newf("upload filename %q contains control characters", f.Name), ErrInvalidInput)
		case seen[name]:
			return nil, errors.Mark(errors.Newf("duplicate upload filename %q", name), ErrInvalidInput)
		}
		seen[name] = true
		names[i] = name
	}
	return names, nil
}

func (s *Service) put(ctx context.Context, key string, f UploadFile) error {
	if sp, ok := s.deps.Inputs.(streamPutter); ok && f.Size >= 0 {
		return sp.PutStream(ctx, key, f.Body, f.Size)
	}
	data, err := io.ReadAll(f.Body)
	if err != nil {
		return err
	}
	return s.deps.Inputs.Put(ctx, key, data)
}

// Source tells where a status answer came from.
type Source string

const (
	SourceRegistry Source = "registry"
	SourceStore    Source = "store"
	SourceMock     Source = "mock"
)

// StatusView is the answer to a status query.
type StatusView struct {
	RunID  string      `json:"run_id"`
	Status run.Status  `json:"status"`
	Source Source      `json:"source"`
	Record *run.Record `json:"record,omitempty"`
}

// Status reports a run's state. The registry answers when it knows the run;
// otherwise the store decides: a completion marker means Completed, staged
// inputs mean Running.
func (s *Service) Status(ctx context.Context, runID string) (StatusView, error) {
	if IsMockRun(runID) {
		return StatusView{RunID: runID, Status: run.StatusCompleted, Source: SourceMock}, nil
	}
	if err := ValidateRunID(runID); err != nil {
		return StatusView{}, err
	}

	rec, found, err := s.deps.Registry.Get(ctx, runID)
	if err != nil {
		s.logger.Warn("registry read failed, falling back to store", zap.String("run_id", runID), zap.Error(err))
	}
	if err == nil && found {
		return StatusView{RunID: runID, Status: rec.Status, Source: SourceRegistry, Record: rec}, nil
	}

	done, err := s.resolver.markerExists(ctx, runID)
	if err != nil {
		return StatusView{}, markRetrieval(err, artifactstore.MarkerKey(runID))
	}
	if done {
		return StatusView{RunID: runID, Status: run.StatusCompleted, Source: SourceStore}, nil
	}
	staged, err := s.deps.Inputs.List(ctx, runID+"/")
	if err != nil {
		return StatusView{}, markRetrieval(err, runID+"/")
	}
	if len(staged) > 0 {
		return StatusView{RunID: runID, Status: run.StatusRunning, Source: SourceStore}, nil
	}
	return StatusView{}, errors.Mark(errors.Newf("run %s", runID), ErrRunNotFound)
}

// CheckCompletion checks the marker now and records Completed when found.
// It shares the transition routine with the poller, so a concurrent poller
// observing the same marker converges on one Completed without error.
func (s *Service) CheckCompletion(ctx context.Context, runID string) (run.Status, error) {
	if IsMockRun(runID) {
		return run.StatusCompleted, nil
	}
	if err := ValidateRunID(runID); err != nil {
		return "", err
	}
	done, st, err := s.resolver.isComplete(ctx, runID, observedByManualCheck)
	if err != nil {
		return "", err
	}
	if done {
		return st, nil
	}
	if st == "" {
		st = run.StatusRunning
	}
	return st, nil
}

// FetchPrimaryResult returns the result table, or not-ready.
func (s *Service) FetchPrimaryResult(ctx context.Context, runID string) (FetchResult, error) {
	if err := s.validateFetchID(runID); err != nil {
		return FetchResult{}, err
	}
	return s.resolver.PrimaryResult(ctx, runID)
}

// FetchReport returns a report, or not-ready.
func (s *Service) FetchReport(ctx context.Context, runID string, kind ReportKind) (FetchResult, error) {
	if err := s.validateFetchID(runID); err != nil {
		return FetchResult{}, err
	}
	return s.resolver.Report(ctx, runID, kind)
}

func (s *Service) validateFetchID(runID string) error {
	if IsMockRun(runID) {
		return nil
	}
	return ValidateRunID(runID)
}

// Get returns the registry record.
func (s *Service) Get(ctx context.Context, runID string) (*run.Record, bool, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, false, err
	}
	return s.deps.Registry.Get(ctx, runID)
}

// List returns registry records newest first.
func (s *Service) List(ctx context.Context, opts registry.ListOptions) ([]*run.Record, error) {
	return s.deps.Registry.List(ctx, opts)
}

// Resume starts pollers for runs the registry has as Running, with the
// budget left since their launch. It returns the number of pollers started.
func (s *Service) Resume(ctx context.Context) (int, error) {
	if s.cfg.DisablePollers {
		return 0, nil
	}
	recs, err := s.deps.Registry.List(ctx, registry.ListOptions{Statuses: []run.Status{run.StatusRunning}})
	if err != nil {
		return 0, errors.Wrap(err, "list running runs")
	}

	started := 0
	now := s.now()
	for _, rec := range recs {
		launched := rec.UpdatedAt
		if rec.LaunchInfo != nil && !rec.LaunchInfo.LaunchedAt.IsZero() {
			launched = rec.LaunchInfo.LaunchedAt
		}
		budget := s.cfg.Poller.Remaining(now.Sub(launched))
		if s.startPoller(rec.RunID, budget) {
			started++
			s.logger.Info("resumed poller",
				zap.String("run_id", rec.RunID),
				zap.Duration("grace", budget.Grace),
				zap.Int("attempts", budget.Attempts),
			)
		}
	}
	return started, nil
}

// Shutdown stops background tasks without writing state. Runs left Running
// are picked up by Resume on the next start.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.supervisor.Shutdown(ctx)
}
