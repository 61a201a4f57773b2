package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/me/cmdbase/internal/journal"
	"github.com/me/cmdbase/internal/robot"
	"github.com/me/cmdbase/internal/scenario"
	"github.com/me/cmdbase/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	var (
		ticks       int
		realtime    bool
		journalPath string
		metrics     bool
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario and print task lifecycle events",
		Long: `Compiles a scenario onto a fresh scheduler and ticks it.

By default the loop runs on a simulated clock as fast as possible; with
--realtime it ticks at the configured robot period.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			if ticks <= 0 {
				ticks = doc.Ticks
			}
			if ticks <= 0 {
				return fmt.Errorf("scenario %q sets no ticks; pass --ticks", doc.Name)
			}
			if journalPath == "" {
				journalPath = cfg.Journal.Path
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			out := cmd.OutOrStdout()

			var (
				loopOpts []robot.Option
				progOpts []scenario.Option
			)
			if !realtime {
				clk := testingclock.NewFakeClock(time.Unix(0, 0))
				loopOpts = append(loopOpts, robot.WithClock(clk))
				progOpts = append(progOpts, scenario.WithStepper(clk))
			}
			loop := newLoop(cfg, logger, loopOpts...)

			if !quiet {
				attachReporter(out, loop)
			}

			var rec *journal.Recorder
			if journalPath != "" {
				st, err := openJournal(ctx, journalPath, logger)
				if err != nil {
					return err
				}
				defer st.Close()
				rec = attachJournal(loop, st, logger)
			}

			var reader *sdkmetric.ManualReader
			if metrics {
				reader = sdkmetric.NewManualReader()
				m, err := telemetry.New(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
				if err != nil {
					return fmt.Errorf("telemetry: %w", err)
				}
				m.AttachLoop(loop)
			}

			prog, err := scenario.Compile(doc, loop, logger, progOpts...)
			if err != nil {
				return err
			}

			logger.Info("running scenario", "scenario", doc.Name, "ticks", ticks, "realtime", realtime)
			if realtime {
				err = runRealtime(ctx, loop, ticks)
			} else {
				err = prog.Run(ctx, ticks)
			}

			if rec != nil {
				if ferr := rec.Flush(context.Background()); ferr != nil {
					err = errors.Join(err, ferr)
				}
				fmt.Fprintf(out, "journal: run %s written to %s\n", rec.RunID(), journalPath)
			}
			if reader != nil {
				if perr := printMetrics(context.Background(), out, reader); perr != nil {
					err = errors.Join(err, perr)
				}
			}
			return err
		},
	}

	cmd.Flags().IntVar(&ticks, "ticks", 0, "Ticks to run (default: the scenario's ticks)")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "Tick at the configured period on the wall clock")
	cmd.Flags().StringVar(&journalPath, "journal", "", "Record lifecycle events to this SQLite file")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "Print scheduler metrics when the run ends")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress lifecycle output")

	return cmd
}

// runRealtime starts loop on the wall clock and stops it after n ticks.
func runRealtime(ctx context.Context, loop *robot.Loop, n int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop.OnTick(func(_ context.Context, tick uint64) error {
		if tick >= uint64(n) {
			cancel()
		}
		return nil
	})

	err := loop.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// printMetrics collects reader once and prints every integer sum.
func printMetrics(ctx context.Context, w io.Writer, reader *sdkmetric.ManualReader) error {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-32s  %s\n", "METRIC", "VALUE")
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var v int64
			for _, dp := range sum.DataPoints {
				v += dp.Value
			}
			fmt.Fprintf(w, "%-32s  %d\n", m.Name, v)
		}
	}
	return nil
}
