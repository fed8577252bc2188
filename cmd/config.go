package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-mdraid/pkg/app/report"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file and
MDRAID_* environment variables.`,

	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// table output falls back to yaml for the config struct
		return report.FormatOutput(cmd.OutOrStdout(), cfg, GetOutputFormat())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
