package cmd

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cloudres/internal/observability"
	"github.com/3leaps/cloudres/pkg/orchestrator"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download run outputs",
	Long: `Download a run's result table or reports.

Outputs are served only once the run is complete. While it is not, the
command prints the reason to stderr and exits 34 so scripts can retry.`,
}

var fetchResultCmd = &cobra.Command{
	Use:   "result <run-id>",
	Short: "Download the primary result table",
	Long: `Download the primary result table.

Examples:
  cloudres fetch result 2f1c9a6e-3c1b-4d2e-9f2a-6b8e4c1d7a90
  cloudres fetch result 2f1c9a6e-3c1b-4d2e-9f2a-6b8e4c1d7a90 -o amr.tsv
  cloudres fetch result test-demo`,
	Args: cobra.ExactArgs(1),
	RunE: runFetchResult,
}

var fetchReportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Download a run report",
	Long: `Download a run report: the aggregated quality report (--kind quality, alias
multiqc) or the newest pipeline execution report (--kind execution, alias
nextflow).

Examples:
  cloudres fetch report 2f1c9a6e-3c1b-4d2e-9f2a-6b8e4c1d7a90 --kind quality -o multiqc.html`,
	Args: cobra.ExactArgs(1),
	RunE: runFetchReport,
}

var fetchOutput string

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.AddCommand(fetchResultCmd)
	fetchCmd.AddCommand(fetchReportCmd)

	fetchCmd.PersistentFlags().StringVarP(&fetchOutput, "output", "o", "", "Write to this file instead of stdout")
	fetchReportCmd.Flags().String("kind", string(orchestrator.ReportQuality), "Report kind (quality|execution)")
	addStackFlags(fetchResultCmd)
	addStackFlags(fetchReportCmd)
}

func runFetchResult(cmd *cobra.Command, args []string) error {
	return fetch(cmd, args[0], func(svc *orchestrator.Service) (orchestrator.FetchResult, error) {
		return svc.FetchPrimaryResult(cmd.Context(), args[0])
	})
}

func runFetchReport(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetString("kind")
	kind, err := orchestrator.ParseReportKind(raw)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --kind value", err)
	}
	return fetch(cmd, args[0], func(svc *orchestrator.Service) (orchestrator.FetchResult, error) {
		return svc.FetchReport(cmd.Context(), args[0], kind)
	})
}

func fetch(cmd *cobra.Command, runID string, get func(*orchestrator.Service) (orchestrator.FetchResult, error)) error {
	ctx := cmd.Context()

	a, err := openApp(cmd, appOptions{disablePollers: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	res, err := get(a.svc)
	if err != nil {
		return runLookupExit(err)
	}
	if res.Outcome != orchestrator.OutcomeReady {
		return exitError(ExitNotReady, "not ready", errors.New(res.Reason))
	}

	art := res.Artifact
	observability.CLILogger.Debug("Fetched artifact",
		zap.String(observability.FieldRunID, runID),
		zap.String(observability.FieldKey, art.Key),
		zap.Int("bytes", len(art.Body)))

	if fetchOutput == "" || fetchOutput == "-" {
		if _, err := cmd.OutOrStdout().Write(art.Body); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		return nil
	}
	if err := os.WriteFile(fetchOutput, art.Body, 0o644); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output file", err)
	}
	observability.CLILogger.Info("Wrote "+fetchOutput, zap.String(observability.FieldKey, art.Key))
	return nil
}
