package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cockroachdb/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cloudres/internal/config"
	"github.com/3leaps/cloudres/internal/observability"
	"github.com/3leaps/cloudres/pkg/artifactstore"
	"github.com/3leaps/cloudres/pkg/match"
	"github.com/3leaps/cloudres/pkg/orchestrator"
	"github.com/3leaps/cloudres/pkg/output"
	"github.com/3leaps/cloudres/pkg/run"
)

var submitCmd = &cobra.Command{
	Use:   "submit <input>...",
	Short: "Submit a run",
	Long: `Register a run and launch the pipeline worker for it.

Inputs are s3:// or file:// locations. Glob patterns are expanded against the
store before submission; quote them so the shell leaves them alone. With
--upload the arguments are local files that are first staged in the input
bucket under the new run id.

The run record is written to stdout as JSONL once the launch outcome is known.
With --wait the command keeps polling for the completion marker and also
emits every transition.

Examples:
  cloudres submit s3://cloudresinput/batch-7/S1_R1.fastq.gz s3://cloudresinput/batch-7/S1_R2.fastq.gz
  cloudres submit 's3://cloudresinput/batch-7/*.fastq.gz'
  cloudres submit --upload reads/S1_R1.fastq.gz reads/S1_R2.fastq.gz --wait`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

var (
	submitUpload bool
	submitWait   bool
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().BoolVar(&submitUpload, "upload", false, "Treat arguments as local files and stage them first")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Poll until the run reaches a terminal state")
	addStackFlags(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	w := output.NewJSONLWriter(cmd.OutOrStdout(), "submit")
	defer func() { _ = w.Close() }()

	opts := appOptions{disablePollers: !submitWait}
	if submitWait {
		opts.observer = output.NewObserver(w, observability.CLILogger)
	}
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	var runID string
	if submitUpload {
		runID, err = uploadFiles(ctx, a.svc, args)
		if err != nil {
			return submitExit(err)
		}
	} else {
		inputs, err := expandInputs(ctx, a.cfg, args)
		if err != nil {
			return err
		}
		rec, err := a.svc.Launch(ctx, inputs)
		if err != nil {
			return submitExit(err)
		}
		runID = rec.RunID
	}

	// Uploads launch in the background, and pollers only run with --wait.
	if submitWait {
		observability.CLILogger.Info("Waiting for completion", zap.String(observability.FieldRunID, runID))
	}
	if err := a.svc.Supervisor().Wait(ctx); err != nil {
		return exitError(foundry.ExitSignalInt, "submit cancelled", err)
	}

	rec, found, err := a.svc.Get(ctx, runID)
	if err != nil || !found {
		// Registry disabled or unreadable: the run id is all we can report.
		fmt.Fprintln(cmd.OutOrStdout(), runID)
		return nil
	}
	if err := w.WriteRun(ctx, rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write run record", err)
	}
	if rec.Status == run.StatusFailed || rec.Status == run.StatusTimedOut {
		return exitError(foundry.ExitFailure, "run did not complete", errors.Newf("run %s is %s", rec.RunID, rec.Status))
	}
	return nil
}

// submitExit maps orchestrator failures to exit codes.
func submitExit(err error) error {
	var ee *ExitError
	if errors.As(err, &ee) {
		return err
	}
	switch {
	case errors.Is(err, orchestrator.ErrNoInputs),
		errors.Is(err, orchestrator.ErrInvalidRunID),
		errors.Is(err, orchestrator.ErrInvalidInput):
		return exitError(foundry.ExitInvalidArgument, "Invalid submission", err)
	case errors.Is(err, orchestrator.ErrLaunch):
		return exitError(foundry.ExitExternalServiceUnavailable, "Launch failed", err)
	default:
		return exitError(foundry.ExitFailure, "Submit failed", err)
	}
}

// expandInputs parses each argument and replaces glob patterns with the
// objects they match. The result keeps argument order; each pattern's
// matches are sorted.
func expandInputs(ctx context.Context, cfg *config.Config, args []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		u, err := ParseURI(arg)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid input URI", err)
		}
		if !u.IsPattern() {
			inputs = append(inputs, u.String())
			continue
		}

		var matched []string
		if u.Provider == "file" {
			matched, err = globFiles(u.Pattern)
		} else {
			matched, err = globBucket(ctx, cfg, u)
		}
		if err != nil {
			return nil, err
		}
		if len(matched) == 0 {
			return nil, exitError(foundry.ExitFileNotFound, "Pattern matched no inputs", errors.New(u.String()))
		}
		observability.CLILogger.Debug("Expanded input pattern",
			zap.String("pattern", u.String()),
			zap.Int("matches", len(matched)))
		inputs = append(inputs, matched...)
	}
	return inputs, nil
}

func globFiles(pattern string) ([]string, error) {
	paths, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid input pattern", err)
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if match.IsHidden(filepath.ToSlash(p)) {
			continue
		}
		out = append(out, "file://"+filepath.ToSlash(p))
	}
	return out, nil
}

func globBucket(ctx context.Context, cfg *config.Config, u *InputURI) ([]string, error) {
	m, err := match.New(match.Config{Includes: []string{u.Pattern}})
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid input pattern", err)
	}

	backend := cfg.Storage.Backend()
	backend.Provider = u.Provider
	store, err := artifactstore.Open(ctx, backend, u.Bucket)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open bucket", err)
	}
	defer func() { _ = store.Close() }()

	keys, err := store.List(ctx, u.Key)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to list inputs", err)
	}
	matched := m.Filter(keys)
	out := make([]string, 0, len(matched))
	for _, k := range matched {
		out = append(out, store.URI(k))
	}
	return out, nil
}

// uploadFiles stages local files through the service and returns the run id.
func uploadFiles(ctx context.Context, svc *orchestrator.Service, paths []string) (string, error) {
	files := make([]orchestrator.UploadFile, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return "", exitError(foundry.ExitFileNotFound, "Cannot open input", err)
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			return "", exitError(foundry.ExitFileNotFound, "Cannot stat input", err)
		}
		if info.IsDir() {
			return "", exitError(foundry.ExitInvalidArgument, "Input is a directory", errors.New(p))
		}
		files = append(files, orchestrator.UploadFile{Name: filepath.Base(p), Size: info.Size(), Body: f})
	}
	return svc.Upload(ctx, files)
}
