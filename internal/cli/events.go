package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/cmdbase/internal/journal"
	"github.com/me/cmdbase/pkg/model"
)

func newEventsCmd() *cobra.Command {
	var (
		journalPath string
		kind        string
		runID       string
		limit       int
		offset      int
		runs        bool
		replay      bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded lifecycle events from a journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if journalPath == "" {
				journalPath = cfg.Journal.Path
			}
			if journalPath == "" {
				return fmt.Errorf("no journal: pass --journal or set journal.path")
			}
			opts := model.ListOptions{Limit: limit, Offset: offset, RunID: runID}
			if kind != "" {
				k := model.EventKind(kind)
				if !k.Valid() {
					return fmt.Errorf("unknown event kind %q", kind)
				}
				opts.Kind = k
			}

			ctx := cmd.Context()
			st, err := openJournal(ctx, journalPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()

			if runs {
				summaries, err := st.ListRuns(ctx)
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
				if len(summaries) == 0 {
					fmt.Fprintln(out, "No runs recorded.")
					return nil
				}
				fmt.Fprintf(out, "%-36s  %-7s  %-9s  %s\n", "RUN", "EVENTS", "LAST TICK", "STARTED")
				for _, r := range summaries {
					fmt.Fprintf(out, "%-36s  %-7d  %-9d  %s\n", r.RunID, r.Events, r.LastTick, r.StartedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			}

			events, total, err := st.ListEvents(ctx, opts)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No events found.")
				return nil
			}

			if replay {
				histories, skipped := journal.Replay(events)
				fmt.Fprintf(out, "%-36s  %-24s  %-11s  %-5s  %-5s  %s\n", "TASK ID", "TASK", "STATE", "START", "END", "INTERRUPTED BY")
				for _, h := range histories {
					end := "-"
					if h.State.IsTerminal() {
						end = fmt.Sprint(h.EndTick)
					}
					fmt.Fprintf(out, "%-36s  %-24s  %-11s  %-5d  %-5s  %s\n", h.TaskID, h.TaskName, h.State, h.StartTick, end, dash(h.Interruptor))
				}
				if skipped > 0 {
					fmt.Fprintf(out, "\n%d event(s) skipped\n", skipped)
				}
				return nil
			}

			fmt.Fprintf(out, "%-6s  %-10s  %-24s  %-20s  %s\n", "TICK", "KIND", "TASK", "REQUIRES", "DETAIL")
			for _, ev := range events {
				name, detail := ev.TaskName, ""
				switch ev.Kind {
				case model.EventMode:
					name, detail = "-", string(ev.Mode)
				case model.EventInterrupt:
					if ev.Interruptor != "" {
						detail = "by " + ev.Interruptor
					}
				}
				fmt.Fprintf(out, "%-6d  %-10s  %-24s  %-20s  %s\n", ev.Tick, ev.Kind, name, dash(strings.Join(ev.Requirements, ",")), detail)
			}
			if shown := opts.Offset + len(events); shown < total {
				fmt.Fprintf(out, "\nShowing %d of %d (use --offset %d for more)\n", len(events), total, shown)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "", "Journal SQLite file (default: journal.path)")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (initialize, interrupt, finish, mode)")
	cmd.Flags().StringVar(&runID, "run", "", "Filter by run ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of events to skip")
	cmd.Flags().BoolVar(&runs, "runs", false, "List recorded runs instead of events")
	cmd.Flags().BoolVar(&replay, "replay", false, "Fold events into per-task histories")

	return cmd
}
