package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/cloudres/pkg/orchestrator"
	"github.com/3leaps/cloudres/pkg/run"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the state of a run",
	Long: `Show the state of a run.

The registry answers when it knows the run. Otherwise the output bucket is
consulted: a completion marker means completed, staged inputs mean running.

Examples:
  cloudres status 2f1c9a6e-3c1b-4d2e-9f2a-6b8e4c1d7a90
  cloudres status 2f1c9a6e-3c1b-4d2e-9f2a-6b8e4c1d7a90 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var checkCmd = &cobra.Command{
	Use:   "check <run-id>",
	Short: "Check for the completion marker now",
	Long: `Check the output bucket for the run's completion marker and record the
run as completed when it is there. This is what the worker's completion
callback triggers.

Exits 0 when the run is completed and 34 while it is still in flight.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)

	statusCmd.Flags().Bool("json", false, "Output as JSON")
	addStackFlags(statusCmd)
	addStackFlags(checkCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := openApp(cmd, appOptions{disablePollers: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	view, err := a.svc.Status(ctx, args[0])
	if err != nil {
		return runLookupExit(err)
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), view)
	}
	printStatus(cmd.OutOrStdout(), view)
	return nil
}

func printStatus(w io.Writer, view orchestrator.StatusView) {
	_, _ = fmt.Fprintf(w, "Run:     %s\n", view.RunID)
	_, _ = fmt.Fprintf(w, "Status:  %s\n", view.Status)
	_, _ = fmt.Fprintf(w, "Source:  %s\n", view.Source)
	rec := view.Record
	if rec == nil {
		return
	}
	_, _ = fmt.Fprintf(w, "Created: %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
	_, _ = fmt.Fprintf(w, "Updated: %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05Z07:00"))
	if rec.LaunchInfo != nil {
		_, _ = fmt.Fprintf(w, "Worker:  %s %s\n", rec.LaunchInfo.Provider, rec.LaunchInfo.ID)
	}
	for _, in := range rec.Inputs {
		_, _ = fmt.Fprintf(w, "Input:   %s\n", in)
	}
	if s := rec.Summary; s != nil {
		if s.Error != "" {
			_, _ = fmt.Fprintf(w, "Error:   %s\n", s.Error)
		}
		if s.Detail != "" {
			_, _ = fmt.Fprintf(w, "Detail:  %s\n", s.Detail)
		}
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(cmd, appOptions{disablePollers: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	st, err := a.svc.CheckCompletion(ctx, args[0])
	if err != nil {
		return runLookupExit(err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), st)

	switch {
	case st == run.StatusCompleted:
		return nil
	case st.Terminal():
		return exitError(foundry.ExitFailure, "run ended without completing", errors.Newf("status %s", st))
	default:
		return exitError(ExitNotReady, "run not complete", errors.Newf("status %s", st))
	}
}

// runLookupExit maps read-path failures to exit codes.
func runLookupExit(err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRunID):
		return exitError(foundry.ExitInvalidArgument, "Invalid run id", err)
	case errors.Is(err, orchestrator.ErrRunNotFound):
		return exitError(foundry.ExitFileNotFound, "Run not found", err)
	case errors.Is(err, orchestrator.ErrRetrievalFailure), errors.Is(err, orchestrator.ErrTransientStore):
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	default:
		return exitError(foundry.ExitFailure, "Lookup failed", err)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}
