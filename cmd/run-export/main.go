// Command run-export exports a trained checkpoint of an experiment run into
// the artifacts listed in the experiment's export configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/born-ml/template/internal/components"
	"github.com/born-ml/template/internal/config"
	"github.com/born-ml/template/internal/export"
	"github.com/born-ml/template/internal/logging"
)

type options struct {
	experiment string
	run        string
	checkpoint string
	root       string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var (
		opts   options
		logger *zap.Logger
	)
	cmd := &cobra.Command{
		Use:   "run-export",
		Short: "Export a trained checkpoint",
		Long: `run-export rebuilds the network of an experiment run from one of its
checkpoints and writes every exporter listed in

  <root>/experiments/<experiment>/<experiment>_export.yaml

into <root>/experiments/<experiment>/run_<run>/exports/.

Without --checkpoint the most recent checkpoint of the run is used.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = logging.New(opts.verbose)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), logger, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.experiment, "experiment", "e", "", "Experiment name (required)")
	flags.StringVarP(&opts.run, "run", "r", "", "Run ID (required)")
	flags.StringVarP(&opts.checkpoint, "checkpoint", "c", "", "Checkpoint file name (default: most recent)")
	flags.StringVar(&opts.root, "root", ".", "Project root holding the experiments folder")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	_ = cmd.MarkFlagRequired("experiment")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func runExport(ctx context.Context, logger *zap.Logger, opts options) error {
	cfg, err := config.LoadExport(config.Paths{Root: opts.root, Experiment: opts.experiment, Run: opts.run})
	if err != nil {
		return err
	}
	registry, err := components.NewRegistry()
	if err != nil {
		return err
	}
	logger.Info("Starting export",
		zap.String("experiment", opts.experiment),
		zap.String("run", opts.run),
		zap.String("folder", cfg.ExperimentFolder))
	return export.Run(ctx, export.Deps{Registry: registry, Logger: logger}, cfg, opts.checkpoint)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
