package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cloudres/internal/config"
	"github.com/3leaps/cloudres/internal/observability"
	"github.com/3leaps/cloudres/pkg/artifactstore"
	"github.com/3leaps/cloudres/pkg/launcher"
	"github.com/3leaps/cloudres/pkg/manifest"
	"github.com/3leaps/cloudres/pkg/orchestrator"
	"github.com/3leaps/cloudres/pkg/registry"
	"github.com/3leaps/cloudres/pkg/run"
)

// app holds the collaborators every run command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry registry.Registry
	inputs   artifactstore.Store
	outputs  artifactstore.Store
	svc      *orchestrator.Service
}

type appOptions struct {
	logger         *zap.Logger
	observer       orchestrator.Observer
	disablePollers bool
}

// loadConfig loads configuration and maps failures to foundry.ExitConfigInvalid.
func loadConfig(ctx context.Context, overrides map[string]any) (*config.Config, error) {
	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return nil, exitError(foundry.ExitConfigInvalid, "Failed to load configuration", err)
	}
	return cfg, nil
}

// buildApp opens the stores, registry and launcher named by cfg and wires
// them into an orchestrator.Service.
func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	logger := opts.logger
	if logger == nil {
		logger = observability.CLILogger
	}

	backend := cfg.Storage.Backend()
	inputs, err := artifactstore.Open(ctx, backend, cfg.Storage.InputBucket, cfg.Storage.StoreOptions()...)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open input store", err)
	}
	outputs, err := artifactstore.Open(ctx, backend, cfg.Storage.OutputBucket, cfg.Storage.StoreOptions()...)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open output store", err)
	}

	reg, err := registry.Open(ctx, cfg.Registry.Open())
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open run registry", err)
	}

	l, err := launcher.Open(ctx, cfg.Launcher.Open(), outputs, logger)
	if err != nil {
		_ = reg.Close()
		return nil, exitError(foundry.ExitConfigInvalid, "Failed to configure launcher", err)
	}

	profile, err := manifest.LoadOrDefault(cfg.Pipeline.Profile)
	if err != nil {
		_ = reg.Close()
		return nil, exitError(foundry.ExitConfigInvalid, "Invalid pipeline profile", err)
	}

	ocfg := cfg.Orchestrator()
	ocfg.DisablePollers = opts.disablePollers
	svc, err := orchestrator.New(orchestrator.Deps{
		Registry: reg,
		Inputs:   inputs,
		Outputs:  outputs,
		Launcher: l,
		Profile:  profile,
		Logger:   logger,
		Observer: opts.observer,
	}, ocfg)
	if err != nil {
		_ = reg.Close()
		return nil, exitError(foundry.ExitConfigInvalid, "Invalid orchestrator configuration", err)
	}

	logger.Debug("service ready",
		zap.String(observability.FieldBackend, cfg.Launcher.Backend),
		zap.String("storage", cfg.Storage.Provider),
		zap.String("registry", cfg.Registry.Driver),
		zap.String("input_store", inputs.URI("")),
		zap.String("output_store", outputs.URI("")),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		inputs:   inputs,
		outputs:  outputs,
		svc:      svc,
	}, nil
}

// Close stops background tasks and releases the registry and stores.
func (a *app) Close(ctx context.Context) error {
	err := a.svc.Shutdown(ctx)
	if cerr := a.registry.Close(); cerr != nil && err == nil {
		err = cerr
	}
	for _, s := range []artifactstore.Store{a.inputs, a.outputs} {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return err
}

// registryChecker reports the registry as unhealthy when it cannot list.
type registryChecker struct {
	registry registry.Registry
}

func (c registryChecker) CheckHealth(ctx context.Context) error {
	if _, err := c.registry.List(ctx, registry.ListOptions{Statuses: []run.Status{run.StatusRunning}, Limit: 1}); err != nil {
		return fmt.Errorf("registry unavailable: %w", err)
	}
	return nil
}

// storeChecker probes a store with an existence check on a key that is never
// written.
type storeChecker struct {
	store artifactstore.Store
}

const healthProbeKey = ".cloudres-health"

func (c storeChecker) CheckHealth(ctx context.Context) error {
	if _, err := c.store.Exists(ctx, healthProbeKey); err != nil {
		return fmt.Errorf("store %s unavailable: %w", c.store.URI(""), err)
	}
	return nil
}

// stackFlagKeys maps the backend selection flags shared by the run commands
// to their config keys.
var stackFlagKeys = map[string]string{
	"launcher":      "launcher.backend",
	"registry":      "registry.driver",
	"registry-path": "registry.path",
	"storage":       "storage.provider",
	"storage-dir":   "storage.base_dir",
}

// addStackFlags registers the backend selection flags on cmd.
func addStackFlags(cmd *cobra.Command) {
	cmd.Flags().String("launcher", "", "Launcher backend (ec2|batch|dryrun)")
	cmd.Flags().String("registry", "", "Run registry driver (memory|file|sqlite|postgres|disabled)")
	cmd.Flags().String("registry-path", "", "Registry directory (file) or database path (sqlite)")
	cmd.Flags().String("storage", "", "Storage provider (s3|file)")
	cmd.Flags().String("storage-dir", "", "Parent directory of the buckets for the file provider")
}

// overridesFromFlags returns the config overrides for flags set on the
// command line.
func overridesFromFlags(cmd *cobra.Command, keys map[string]string) map[string]any {
	out := make(map[string]any)
	for name, key := range keys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		out[key] = f.Value.String()
	}
	return out
}

// openApp loads configuration with the command's flag overrides and builds
// the service.
func openApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, err := loadConfig(cmd.Context(), overridesFromFlags(cmd, stackFlagKeys))
	if err != nil {
		return nil, err
	}
	return buildApp(cmd.Context(), cfg, opts)
}
