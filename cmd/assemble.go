package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-mdraid/pkg/app/report"
)

var assembleResync bool

var assembleCmd = &cobra.Command{
	Use:   "assemble DEVICE...",
	Short: "Assemble arrays from their member devices",
	Long: `Import every device, group them by set UUID and start one array per set
at the minor recorded in its superblock. Stale members are left out and
missing members are reported. With --resync, unclean arrays are resynced
and degraded arrays rebuild onto their spares before the command exits.

Examples:
  mdctl assemble /dev/sdb1 /dev/sdc1 /dev/sdd1
  mdctl assemble --resync disk0.img disk1.img`,

	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAssemble(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(assembleCmd)

	assembleCmd.Flags().BoolVar(&assembleResync, "resync", false, "run pending resync and rebuild before exiting")
}

func runAssemble(cmd *cobra.Command, devices []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}

	response, err := rt.handler.Assemble(rt.ctx, &report.AssembleRequest{Devices: devices, Resync: assembleResync})
	if err != nil {
		return rt.abort(err)
	}
	return rt.finish(response)
}
