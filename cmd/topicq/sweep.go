package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phrazzld/topicq/internal/report"
	"github.com/spf13/cobra"
)

type loopOptions struct {
	loops    int
	interval time.Duration
	verbose  bool
}

func (o *loopOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.loops, "loops", 1, "Number of sweeps to run")
	cmd.Flags().DurationVar(&o.interval, "interval", 0, "Pause between sweeps")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "Include error text in the table and log at debug level")
}

// applyVerbose lowers the log level to debug unless --log-level was given.
func (o *loopOptions) applyVerbose(root *rootOptions) {
	if o.verbose && root.logLevel == "" {
		root.logLevel = "debug"
	}
}

func newSweepCommand(root *rootOptions) *cobra.Command {
	loops := &loopOptions{}
	var organizations []string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run compensation sweeps and print per-sweep statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			loops.applyVerbose(root)
			return withApplication(cmd.Context(), root, func(ctx context.Context, app *application) error {
				return runReport(ctx, cmd.OutOrStdout(), loops, func(ctx context.Context) (report.Iteration, error) {
					stats, err := app.compensation.SweepOrganizations(ctx, organizations)
					return report.Iteration{
						Processed: stats.Processed,
						Success:   stats.Success,
						Failed:    stats.Failed,
						Skipped:   stats.Skipped,
						Reclaimed: stats.Reclaimed,
						Duration:  stats.Duration,
					}, err
				})
			})
		},
	}
	loops.register(cmd)
	cmd.Flags().StringSliceVar(&organizations, "org", nil, "Restrict the sweep to these organization codes (repeatable)")
	return cmd
}

func newRecoverCommand(root *rootOptions) *cobra.Command {
	loops := &loopOptions{}

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Run execution-timeout recovery sweeps and print statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			loops.applyVerbose(root)
			return withApplication(cmd.Context(), root, func(ctx context.Context, app *application) error {
				return runReport(ctx, cmd.OutOrStdout(), loops, func(ctx context.Context) (report.Iteration, error) {
					stats, err := app.recovery.Sweep(ctx)
					return report.Iteration{
						Processed: stats.Scanned,
						Success:   stats.Reclaimed,
						Skipped:   stats.Skipped,
						Reclaimed: stats.Reclaimed,
						Duration:  stats.Duration,
					}, err
				})
			})
		},
	}
	loops.register(cmd)
	return cmd
}

// withApplication loads config, connects to the database and hands a wired
// application to fn. SIGINT and SIGTERM cancel the context passed to fn.
func withApplication(parent context.Context, root *rootOptions, fn func(ctx context.Context, app *application) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := root.loadConfig()
	if err != nil {
		return err
	}

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}

	app, err := newApplication(cfg, log, db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	return fn(ctx, app)
}

// runReport runs the loop and prints the table. Interrupting the loop still
// prints whatever finished.
func runReport(ctx context.Context, out io.Writer, opts *loopOptions, run report.RunFunc) error {
	iterations, err := report.RunLoops(ctx, opts.loops, opts.interval, run)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return report.WriteTable(out, iterations, opts.verbose)
}
