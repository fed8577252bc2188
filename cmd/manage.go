package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-mdraid/pkg/app/report"
)

var (
	manageAdd    []string
	manageRemove []string
	manageFail   []string
	manageResync bool
)

var manageCmd = &cobra.Command{
	Use:   "manage ARRAY MEMBER...",
	Short: "Add, remove or fail members of an array",
	Long: `Assemble ARRAY from its MEMBER devices, then apply --fail, --remove and
--add in that order. Added devices become spares; with --resync a degraded
array rebuilds onto them before the command exits.

Examples:
  # Replace a failing disk
  mdctl manage md0 /dev/sdb1 /dev/sdc1 --fail /dev/sdc1 --remove /dev/sdc1 --add /dev/sdd1 --resync`,

	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runManage(cmd, args[0], args[1:])
	},
}

func init() {
	rootCmd.AddCommand(manageCmd)

	manageCmd.Flags().StringSliceVarP(&manageAdd, "add", "a", nil, "devices to add as spares")
	manageCmd.Flags().StringSliceVarP(&manageRemove, "remove", "r", nil, "spare or faulty members to remove")
	manageCmd.Flags().StringSliceVarP(&manageFail, "fail", "f", nil, "members to mark faulty")
	manageCmd.Flags().BoolVar(&manageResync, "resync", false, "rebuild onto spares before exiting")
}

func runManage(cmd *cobra.Command, array string, members []string) error {
	request := &report.ManageRequest{
		Array:   array,
		Devices: members,
		Add:     manageAdd,
		Remove:  manageRemove,
		Fail:    manageFail,
		Resync:  manageResync,
	}
	if err := request.Validate(); err != nil {
		return err
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	response, err := rt.handler.Manage(rt.ctx, request)
	if err != nil {
		return rt.abort(err)
	}
	return rt.finish(response)
}
