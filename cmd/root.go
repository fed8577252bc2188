package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-mdraid/internal/config"
	"github.com/deploymenttheory/go-mdraid/pkg/app"
	"github.com/deploymenttheory/go-mdraid/pkg/app/report"
	"github.com/deploymenttheory/go-mdraid/pkg/services"
)

var (
	// Global flags
	configPath   string
	verbose      bool
	quiet        bool
	outputFormat string
	metricsAddr  string

	// loaded by the root pre-run
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mdctl",
	Short: "Create, assemble and manage MD software RAID arrays",
	Long: `mdctl drives MD arrays with version 0.90 superblocks on block devices
or image files.

Commands:
  examine     Print the superblock of member devices
  create      Create a new array
  assemble    Assemble arrays from their members
  manage      Add, remove or fail members of an array
  config      Print the effective configuration`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := report.ValidateFormat(outputFormat); err != nil {
			return err
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "failed to load configuration", err)
		}
		if metricsAddr != "" {
			loaded.MetricsAddr = metricsAddr
		}
		if verbose {
			loaded.LogLevel = "debug"
		}
		if quiet {
			loaded.LogLevel = "error"
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code := app.CodeOf(err)
		fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", code, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default searches ./mdraid-config.yaml, $HOME/.mdraid, /etc/mdraid)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetQuiet returns the quiet flag value
func GetQuiet() bool {
	return quiet
}

// GetOutputFormat returns the output format
func GetOutputFormat() string {
	return outputFormat
}

// runtime is the per-command application stack
type runtime struct {
	ctx     *app.Context
	factory *services.ServiceFactory
	handler *report.Handler
	stop    context.CancelFunc
}

// newRuntime builds the service stack and an application context that is
// cancelled on SIGINT or SIGTERM
func newRuntime(cmd *cobra.Command) (*runtime, error) {
	factory := services.NewServiceFactory(cfg)
	svc, err := factory.MDService()
	if err != nil {
		return nil, err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx := app.NewContext()
	ctx.Context = sigCtx
	ctx.OutputFormat = GetOutputFormat()
	ctx.Verbose = GetVerbose()
	ctx.Quiet = GetQuiet()
	ctx.Out = cmd.OutOrStdout()
	ctx.ErrOut = cmd.ErrOrStderr()
	ctx.SetProgress(func(update app.ProgressUpdate) {
		ctx.Info("%s", report.FormatProgress(update))
	})

	return &runtime{ctx: ctx, factory: factory, handler: report.NewHandler(svc), stop: stop}, nil
}

// finish prints resp and releases the stack. Arrays are stopped on release,
// which marks them clean when no resync is pending.
func (r *runtime) finish(resp interface{}) error {
	err := report.FormatOutput(r.ctx.Out, resp, r.ctx.OutputFormat)
	if serr := r.release(); serr != nil && err == nil {
		err = serr
	}
	return err
}

// abort releases the stack and returns err
func (r *runtime) abort(err error) error {
	if serr := r.release(); serr != nil {
		r.ctx.Error(serr.Error())
	}
	return err
}

func (r *runtime) release() error {
	defer r.stop()
	if err := r.factory.Shutdown(); err != nil {
		return app.FromError("failed to stop arrays", err)
	}
	return nil
}
