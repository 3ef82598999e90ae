package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/3leaps/cloudres/internal/config"
	"github.com/3leaps/cloudres/internal/server/handlers"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := handlers.VersionInfo{
			Name:      config.AppName,
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
			GoVersion: runtime.Version(),
		}
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return writeJSON(cmd.OutOrStdout(), info)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", info.Name, info.Version)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "commit:     %s\n", info.Commit)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "built:      %s\n", info.BuildDate)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "go version: %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("json", false, "Output as JSON")
}
