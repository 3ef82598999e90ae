package cmd

import (
	"context"
	"os"
	"runtime"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/cloudres/internal/config"
	"github.com/3leaps/cloudres/internal/observability"
	"github.com/3leaps/cloudres/internal/server"
	"github.com/3leaps/cloudres/internal/server/handlers"
	"github.com/3leaps/cloudres/pkg/orchestrator"
	"github.com/3leaps/cloudres/pkg/output"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API for uploads, run status and result retrieval.

On start, runs the registry still has as running get their completion
pollers back with whatever budget is left since launch.

Examples:
  cloudres serve
  cloudres serve --port 9000 --launcher dryrun --registry sqlite --registry-path runs.db
  cloudres serve --events events.jsonl`,
	RunE: runServe,
}

var serveFlagKeys = map[string]string{
	"host":          "server.host",
	"port":          "server.port",
	"test-data-dir": "server.test_data_dir",
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Listen host")
	serveCmd.Flags().Int("port", 0, "Listen port")
	serveCmd.Flags().String("test-data-dir", "", "Directory with the downloadable example reads")
	serveCmd.Flags().String("events", "", "Append run transitions as JSONL to this file")
	addStackFlags(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	overrides := overridesFromFlags(cmd, stackFlagKeys)
	for k, v := range overridesFromFlags(cmd, serveFlagKeys) {
		overrides[k] = v
	}
	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitConfigInvalid, "Invalid logging configuration", err)
	}
	logger = logger.With(zap.String(observability.FieldService, config.AppName))
	defer func() { _ = logger.Sync() }()

	var observer orchestrator.Observer
	eventsPath, _ := cmd.Flags().GetString("events")
	if eventsPath != "" {
		f, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to open events file", err)
		}
		w := output.NewJSONLWriter(f, config.AppName)
		defer func() {
			_ = w.Close()
			_ = f.Close()
		}()
		observer = output.NewObserver(w, logger)
	}

	a, err := buildApp(ctx, cfg, appOptions{logger: logger, observer: observer})
	if err != nil {
		return err
	}

	health := handlers.InitHealthManager(versionInfo.Version)
	health.SetStarted(false)
	if cfg.Health.Enabled {
		health.RegisterChecker("registry", registryChecker{registry: a.registry})
		health.RegisterChecker("input_store", storeChecker{store: a.inputs})
		health.RegisterChecker("output_store", storeChecker{store: a.outputs})
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithService(a.svc),
		server.WithLogger(logger),
		server.WithVersion(handlers.VersionInfo{
			Name:      config.AppName,
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
			GoVersion: runtime.Version(),
		}),
		server.WithCORSOrigins(cfg.Server.CORSOrigins),
		server.WithTestDataDir(cfg.Server.TestDataDir),
		server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", zap.Error(err))
		}
		return a.Close(shutdownCtx)
	})

	resumed, err := a.svc.Resume(gctx)
	if err != nil {
		logger.Warn("failed to resume pollers", zap.Error(err))
	}
	health.SetStarted(true)
	logger.Info("cloudres started",
		zap.String("addr", srv.Addr()),
		zap.String("version", versionInfo.Version),
		zap.Int("resumed_pollers", resumed),
	)

	if err := g.Wait(); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server stopped with error", err)
	}
	logger.Info("cloudres stopped")
	return nil
}
