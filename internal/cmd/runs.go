package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cloudres/internal/observability"
	"github.com/3leaps/cloudres/pkg/output"
	"github.com/3leaps/cloudres/pkg/registry"
	"github.com/3leaps/cloudres/pkg/run"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run registry",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	Long: `List runs from the registry, newest first.

Examples:
  cloudres runs list
  cloudres runs list --status running,submitted --limit 20
  cloudres runs list --jsonl | jq -r 'select(.type=="cloudres.run.v1") | .run_id'`,
	RunE: runRunsList,
}

var runsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream run state changes as JSONL",
	Long: `Poll the registry and write a transition record for every state change seen,
until interrupted. The current state of each run is written first.

Examples:
  cloudres runs watch --registry sqlite --registry-path runs.db
  cloudres runs watch --status running --interval 10s`,
	RunE: runRunsWatch,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsWatchCmd)

	for _, c := range []*cobra.Command{runsListCmd, runsWatchCmd} {
		c.Flags().StringSlice("status", nil, "Only runs in these states (repeatable or comma-separated)")
		c.Flags().Int("limit", 0, "Maximum number of runs (0 = all)")
		addStackFlags(c)
	}
	runsListCmd.Flags().Bool("jsonl", false, "Output JSONL records with a summary")
	runsWatchCmd.Flags().Duration("interval", 5*time.Second, "Registry poll interval")
}

func listOptions(cmd *cobra.Command) (registry.ListOptions, error) {
	raw, _ := cmd.Flags().GetStringSlice("status")
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 0 {
		return registry.ListOptions{}, exitError(foundry.ExitInvalidArgument, "Invalid --limit value", fmt.Errorf("limit must be >= 0"))
	}
	opts := registry.ListOptions{Limit: limit}
	for _, s := range raw {
		st, err := run.ParseStatus(strings.TrimSpace(strings.ToLower(s)))
		if err != nil {
			return registry.ListOptions{}, exitError(foundry.ExitInvalidArgument, "Invalid --status value", err)
		}
		opts.Statuses = append(opts.Statuses, st)
	}
	return opts, nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonl, _ := cmd.Flags().GetBool("jsonl")
	opts, err := listOptions(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, appOptions{disablePollers: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	recs, err := a.svc.List(ctx, opts)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list runs", err)
	}

	if jsonl {
		w := output.NewJSONLWriter(cmd.OutOrStdout(), "runs-list")
		defer func() { _ = w.Close() }()
		return writeRunList(ctx, w, recs)
	}
	printRunTable(cmd.OutOrStdout(), recs)
	return nil
}

func writeRunList(ctx context.Context, w output.Writer, recs []*run.Record) error {
	sum := &output.SummaryRecord{ByStatus: make(map[string]int)}
	for _, rec := range recs {
		if err := w.WriteRun(ctx, rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write run record", err)
		}
		sum.Runs++
		sum.ByStatus[rec.Status.String()]++
	}
	if err := w.WriteSummary(ctx, sum); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write summary", err)
	}
	return nil
}

func printRunTable(out io.Writer, recs []*run.Record) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN ID\tSTATUS\tCREATED\tUPDATED\tINPUTS\tWORKER")
	for _, rec := range recs {
		worker := "-"
		if rec.LaunchInfo != nil {
			worker = rec.LaunchInfo.Provider + ":" + rec.LaunchInfo.ID
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.RunID,
			rec.Status,
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			len(rec.Inputs),
			worker,
		)
	}
	_ = tw.Flush()
}

func runRunsWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --interval value", fmt.Errorf("interval must be > 0"))
	}
	opts, err := listOptions(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, appOptions{disablePollers: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	w := output.NewJSONLWriter(cmd.OutOrStdout(), "runs-watch")
	defer func() { _ = w.Close() }()

	return watchRuns(ctx, a.registry, w, opts, interval)
}

// watchRuns polls reg every interval and writes a transition for each status
// change since the previous poll. Runs seen for the first time are written as
// snapshots. It returns nil when ctx is cancelled.
func watchRuns(ctx context.Context, reg registry.Registry, w output.Writer, opts registry.ListOptions, interval time.Duration) error {
	seen := make(map[string]run.Status)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		recs, err := reg.List(ctx, opts)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			observability.CLILogger.Warn("Registry poll failed", zap.Error(err))
			_ = w.WriteError(ctx, "", &output.ErrorRecord{Code: output.ErrCodeInternal, Message: err.Error()})
		default:
			for _, rec := range recs {
				prev, known := seen[rec.RunID]
				seen[rec.RunID] = rec.Status
				var werr error
				if !known {
					werr = w.WriteRun(ctx, rec)
				} else if prev != rec.Status {
					werr = w.WriteTransition(ctx, run.Event{
						RunID:   rec.RunID,
						From:    prev,
						To:      rec.Status,
						At:      rec.UpdatedAt,
						Summary: rec.Summary,
					})
				}
				if werr != nil {
					return exitError(foundry.ExitFileWriteError, "Failed to write event", werr)
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
