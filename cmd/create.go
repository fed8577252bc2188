package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-mdraid/pkg/app/report"
)

var (
	createLevel         string
	createChunk         string
	createRaidDevices   int
	createSpareDevices  int
	createAssumeClean   bool
	createNotPersistent bool
	createResync        bool
)

var createCmd = &cobra.Command{
	Use:   "create ARRAY DEVICE...",
	Short: "Create a new array from empty devices",
	Long: `Write a fresh superblock with a new set UUID to every device and start
the array. Redundant arrays start unclean and need a resync unless
--assume-clean is given; pass --resync to run it before exiting.
The array is stopped again when the command returns.

Examples:
  # Two-way mirror with a spare, synced before exit
  mdctl create md0 --level raid1 --spare-devices 1 /dev/sdb1 /dev/sdc1 /dev/sdd1 --resync

  # Stripe with 128 KiB chunks
  mdctl create md1 --level raid0 --chunk 128 /dev/sde1 /dev/sdf1`,

	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCreate(cmd, args[0], args[1:])
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVarP(&createLevel, "level", "l", "", "raid level (linear, raid0, raid1)")
	createCmd.Flags().StringVarP(&createChunk, "chunk", "c", "", "chunk size in KiB or with a unit (64, 64KiB, 1MiB)")
	createCmd.Flags().IntVarP(&createRaidDevices, "raid-devices", "n", 0, "number of active devices (default: all but the spares)")
	createCmd.Flags().IntVarP(&createSpareDevices, "spare-devices", "x", 0, "number of spare devices")
	createCmd.Flags().BoolVar(&createAssumeClean, "assume-clean", false, "mark the new array clean, skipping the initial resync")
	createCmd.Flags().BoolVar(&createNotPersistent, "not-persistent", false, "keep no superblock on the devices")
	createCmd.Flags().BoolVar(&createResync, "resync", false, "run the initial resync before exiting")
	createCmd.MarkFlagRequired("level")
	createCmd.MarkFlagsMutuallyExclusive("assume-clean", "resync")
}

func runCreate(cmd *cobra.Command, array string, devices []string) error {
	request := &report.CreateRequest{
		Array:         array,
		Level:         createLevel,
		Chunk:         createChunk,
		RaidDevices:   createRaidDevices,
		SpareDevices:  createSpareDevices,
		Devices:       devices,
		AssumeClean:   createAssumeClean,
		NotPersistent: createNotPersistent,
		Resync:        createResync,
	}
	if err := request.Validate(); err != nil {
		return err
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	response, err := rt.handler.Create(rt.ctx, request)
	if err != nil {
		return rt.abort(err)
	}
	return rt.finish(response)
}
