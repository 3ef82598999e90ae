// Package cmd implements the cloudres command line.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/3leaps/cloudres/internal/config"
	"github.com/3leaps/cloudres/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Run lifecycle orchestrator for cloud pipeline runs",
	Long: `cloudres accepts sequencing inputs, launches a pipeline worker for each run,
watches the output bucket for the completion marker and serves the result
table and reports once they appear.

Run "cloudres serve" for the HTTP API, or drive runs directly with
"cloudres submit", "cloudres status" and "cloudres fetch".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(config.AppName, verbose)
		config.SetConfigFile(cfgFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./cloudres.yaml, then the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SetVersionInfo records build metadata injected via ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
