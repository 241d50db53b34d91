package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/engine"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/matching"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/timeline"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <seed.yaml>",
		Short: "Import normalized calls, orders and events",
		Long: `Import a YAML snapshot of calls, orders, order events and phone
occurrences through the regular upsert paths. Importing the same file twice
leaves the database unchanged.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args[0], cmd)
		},
	}
}

func runImport(opts *RootOptions, path string, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	seed, err := store.LoadSeed(path)
	if err != nil {
		return a.out.Fail(ExitCommandError, "failed to read seed", err)
	}
	ctx, cancel := commandContext(cmd, a.logger)
	defer cancel()

	stats, err := a.store.Import(ctx, seed)
	if err != nil {
		return a.out.Fail(ExitFailure, "import failed", err)
	}
	a.logger.Info("seed imported",
		zap.String("path", path),
		zap.Int("calls", stats.Calls),
		zap.Int("orders", stats.Orders),
		zap.Int("events", stats.Events))

	return a.out.Success(stats, func(w io.Writer) {
		fmt.Fprintf(w, "imported %d calls, %d orders, %d events, %d phone occurrences\n",
			stats.Calls, stats.Orders, stats.Events, stats.Occurrences)
	})
}

func (a *app) matcher() *matching.Matcher {
	return matching.New(a.store, matching.Config{
		Window:    a.cfg.MatchWindowDuration(),
		BatchSize: a.cfg.MatchBatchSize,
	},
		matching.WithLogger(a.logger),
		matching.WithRunIDs(engine.UUIDv7Generator{}))
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match the next batch of calls to orders",
		Long: `Match up to --batch-size calls after the matching cursor to orders by
client phone. Each call gets at most one match; the cursor advances past every
processed call, including calls that matched nothing.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, a.logger)
			defer cancel()

			report, err := a.matcher().RunBatch(ctx, batchSize)
			if err != nil {
				return a.out.Fail(ExitFailure, "matching failed", err)
			}
			return a.out.SuccessRun(report.RunID, report, func(w io.Writer) {
				writeReport(w, "match", report, rootOpts.Verbose)
			})
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "calls per batch (default OKK_MATCH_BATCH_SIZE)")
	return cmd
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	var cursor string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-match call history on the backfill cursor",
		Long: `Walk call history in batches on a cursor separate from regular matching
until no calls remain. --cursor restarts the walk at the given time.

Example:
  okkqc backfill --cursor 2024-01-01T00:00:00Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			override, err := parseTimeFlag("cursor", cursor)
			if err != nil {
				return out.Fail(ExitCommandError, "invalid flag", err)
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, a.logger)
			defer cancel()

			var at *time.Time
			if !override.IsZero() {
				at = &override
			}
			report, err := a.matcher().Backfill(ctx, at)
			if err != nil {
				return a.out.Fail(ExitFailure, "backfill failed", err)
			}
			return a.out.SuccessRun(report.RunID, report, func(w io.Writer) {
				writeReport(w, "backfill", report, rootOpts.Verbose)
			})
		},
	}

	cmd.Flags().StringVar(&cursor, "cursor", "", "restart the walk at this RFC3339 time")
	return cmd
}

// NewEfficiencyCommand creates the efficiency command.
func NewEfficiencyCommand(rootOpts *RootOptions) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "efficiency",
		Short: "Report minutes of work per manager",
		Long: `Attribute time orders spent in working statuses (OKK_WORKING_STATUSES)
to managers over a window, and list the orders each manager touched and
processed with a qualifying call.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			window, err := parseWindow(from, to)
			if err != nil {
				return out.Fail(ExitCommandError, "invalid window", err)
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := commandContext(cmd, a.logger)
			defer cancel()

			start, end := window.resolve(time.Now().UTC(), a.cfg.RuleLookbackDuration())
			report, err := timeline.Efficiency(ctx, a.store, start, end, timeline.Settings{
				Filter: timeline.Filter{
					WorkingStatuses:    a.cfg.WorkingStatusList(),
					ControlledManagers: a.cfg.ControlledManagerList(),
				},
				MinCallSeconds: int64(a.cfg.MinCallSeconds),
			}, a.logger)
			if err != nil {
				return a.out.Fail(ExitFailure, "efficiency report failed", err)
			}

			return a.out.Success(report, func(w io.Writer) {
				fmt.Fprintf(w, "efficiency %s .. %s\n", report.From.Format(time.RFC3339), report.To.Format(time.RFC3339))
				if report.Note != "" {
					fmt.Fprintf(w, "  %s\n", report.Note)
				}
				for _, m := range report.Managers {
					fmt.Fprintf(w, "  %-12s %8.1f min  touched %d  processed %d\n",
						m.ManagerID, m.Minutes, len(m.OrdersTouched), len(m.OrdersProcessed))
				}
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "window start, RFC3339 (default: --to minus OKK_RULE_LOOKBACK)")
	cmd.Flags().StringVar(&to, "to", "", "window end, RFC3339 (default: now)")
	return cmd
}

// timeWindow holds optional window bounds from flags.
type timeWindow struct {
	from, to time.Time
}

func parseWindow(from, to string) (timeWindow, error) {
	var w timeWindow
	var err error
	if w.from, err = parseTimeFlag("from", from); err != nil {
		return w, err
	}
	if w.to, err = parseTimeFlag("to", to); err != nil {
		return w, err
	}
	return w, nil
}

// resolve fills missing bounds: the end defaults to now, the start to
// lookback before the end.
func (w timeWindow) resolve(now time.Time, lookback time.Duration) (time.Time, time.Time) {
	end := w.to
	if end.IsZero() {
		end = now
	}
	start := w.from
	if start.IsZero() {
		start = end.Add(-lookback)
	}
	return start.UTC(), end.UTC()
}

// parseTimeFlag parses an RFC3339 flag value; empty yields the zero time.
func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t.UTC(), nil
}
