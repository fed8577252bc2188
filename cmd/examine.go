package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-mdraid/pkg/app/report"
)

var examineCmd = &cobra.Command{
	Use:   "examine DEVICE...",
	Short: "Print the MD superblock of each device",
	Long: `Read and decode the version 0.90 superblock stored near the end of each
device, including the checksum state and the device table.

Examples:
  # Examine two partitions
  mdctl examine /dev/sdb1 /dev/sdc1

  # Examine an image file as JSON
  mdctl examine disk0.img -o json`,

	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExamine(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(examineCmd)
}

func runExamine(cmd *cobra.Command, devices []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}

	response, err := rt.handler.Examine(rt.ctx, &report.ExamineRequest{Devices: devices})
	if err != nil {
		if response != nil {
			report.FormatOutput(rt.ctx.Out, response, rt.ctx.OutputFormat)
		}
		return rt.abort(err)
	}
	return rt.finish(response)
}
