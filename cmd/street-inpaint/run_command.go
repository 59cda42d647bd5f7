package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	streetinpaint "github.com/menta2k/street-inpaint"
	"github.com/menta2k/street-inpaint/internal/config"
	"github.com/menta2k/street-inpaint/internal/journal"
	"github.com/menta2k/street-inpaint/internal/logging"
	"github.com/menta2k/street-inpaint/pkg/batch"
)

type runFlags struct {
	input         string
	output        string
	workers       int
	prompts       []string
	boxThreshold  float64
	textThreshold float64
	dilate        int
	device        string
	debugOverlay  bool
	noJournal     bool
	noProgress    bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [input-dir]",
		Short: "Process every capture location under the input directory",
		Long: `Run applies the configured prompts to every image in each immediate
subdirectory of the input directory and mirrors the tree into the output
directory. Re-running resumes: images whose inpainted output exists are
skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				flags.input = args[0]
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg, flags); err != nil {
				return err
			}
			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := batch.Options{}
			if !flags.noProgress && logging.IsTerminal(os.Stderr) {
				opts.Progress = os.Stderr
			}
			return executeRun(runCtx, cfg, opts, logger, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&flags.input, "input", "i", "", "Input root with one subdirectory per capture location")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output root")
	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 0, "Number of images processed concurrently")
	cmd.Flags().StringArrayVarP(&flags.prompts, "prompt", "p", nil, "Prompt to remove, in order (repeatable)")
	cmd.Flags().Float64Var(&flags.boxThreshold, "box-threshold", 0, "Minimum detection confidence")
	cmd.Flags().Float64Var(&flags.textThreshold, "text-threshold", 0, "Minimum label confidence")
	cmd.Flags().IntVar(&flags.dilate, "dilate", 0, "Dilation kernel size in pixels")
	cmd.Flags().StringVar(&flags.device, "device", "", "Device requested from model servers (auto, cuda, cpu)")
	cmd.Flags().BoolVar(&flags.debugOverlay, "debug-overlay", false, "Write debug_<name>.png overlays")
	cmd.Flags().BoolVar(&flags.noJournal, "no-journal", false, "Do not record the run in the journal")
	cmd.Flags().BoolVar(&flags.noProgress, "no-progress", false, "Disable progress bars")
	return cmd
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, flags runFlags) error {
	changed := cmd.Flags().Changed
	if flags.input != "" {
		cfg.Paths.InputDir = flags.input
	}
	if changed("output") {
		cfg.Paths.OutputDir = flags.output
	}
	if changed("workers") {
		cfg.Pipeline.Workers = flags.workers
	}
	if changed("prompt") {
		cfg.Pipeline.Prompts = flags.prompts
	}
	if changed("box-threshold") {
		cfg.Detection.BoxThreshold = flags.boxThreshold
	}
	if changed("text-threshold") {
		cfg.Detection.TextThreshold = flags.textThreshold
	}
	if changed("dilate") {
		cfg.Pipeline.DilateKernelSize = flags.dilate
	}
	if changed("device") {
		cfg.Runtime.Device = flags.device
	}
	if changed("debug-overlay") {
		cfg.Pipeline.DebugOverlay = flags.debugOverlay
	}
	if flags.noJournal {
		cfg.Journal.Enabled = false
	}
	if err := revalidate(cfg); err != nil {
		return err
	}
	if cfg.Paths.InputDir == "" {
		return errors.New("input directory is required (pass it as an argument or set paths.input_dir)")
	}
	return nil
}

func executeRun(ctx context.Context, cfg *config.Config, opts batch.Options, logger *slog.Logger, out io.Writer) error {
	var (
		run *journal.Run
		err error
	)
	if cfg.Journal.Enabled {
		store, openErr := journal.Open(cfg.JournalPath())
		if openErr != nil {
			return fmt.Errorf("open journal: %w", openErr)
		}
		defer store.Close()

		run, err = store.BeginRun(ctx, journal.RunInfo{
			InputDir:  cfg.Paths.InputDir,
			OutputDir: cfg.Paths.OutputDir,
			Prompts:   cfg.Pipeline.Prompts,
		})
		if err != nil {
			return err
		}
		opts.Recorder = run
		logger = logger.With(slog.String(logging.FieldRunID, run.ID()))
	}

	logger.Info("starting batch",
		slog.String("input", cfg.Paths.InputDir),
		slog.String("output", cfg.Paths.OutputDir),
		slog.Any("prompts", cfg.Pipeline.Prompts),
		slog.Int("workers", cfg.Pipeline.Workers),
		slog.String("device", cfg.Runtime.Device),
	)

	walker, pool, err := streetinpaint.NewWalker(cfg, opts, logger)
	if err != nil {
		finishRun(run, nil, err, logger)
		return err
	}
	defer pool.Close()

	summary, err := walker.Run(ctx)
	finishRun(run, summary, err, logger)
	if summary != nil {
		printSummary(out, summary, run)
	}
	return err
}

// finishRun stores the outcome even when the run context was cancelled.
func finishRun(run *journal.Run, summary *batch.Summary, runErr error, logger *slog.Logger) {
	if run == nil {
		return
	}
	if err := run.Finish(context.Background(), summary, runErr); err != nil {
		logger.Warn("failed to finish journal run", logging.Error(err))
	}
}

func printSummary(out io.Writer, s *batch.Summary, run *journal.Run) {
	if run != nil {
		fmt.Fprintf(out, "Run:        %s\n", run.ID())
	}
	fmt.Fprintf(out, "Locations:  %d (%d skipped)\n", s.Locations, s.SkippedLocations)
	fmt.Fprintf(out, "Processed:  %d (%d masked)\n", s.Processed, s.Masked)
	fmt.Fprintf(out, "Skipped:    %d\n", s.Skipped)
	fmt.Fprintf(out, "Copied:     %d\n", s.Copied)
	fmt.Fprintf(out, "Failed:     %d\n", s.Failed)
	fmt.Fprintf(out, "Elapsed:    %s\n", s.Duration.Round(time.Millisecond))
}
