package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/cmdbase/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show running tasks and resources of a served scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/scheduler")
			if err != nil {
				return fmt.Errorf("get scheduler: %w", err)
			}

			var status model.SchedulerStatus
			if err := json.Unmarshal(resp.Data, &status); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tick: %d\n", status.Tick)
			fmt.Fprintf(out, "Mode: %s\n", status.Mode)

			fmt.Fprintln(out)
			if len(status.Running) == 0 {
				fmt.Fprintln(out, "No running tasks.")
			} else {
				fmt.Fprintf(out, "%-36s  %-24s  %-10s  %s\n", "ID", "TASK", "SINCE", "REQUIRES")
				for _, t := range status.Running {
					fmt.Fprintf(out, "%-36s  %-24s  %-10d  %v\n", t.ID, t.Name, t.SinceTick, t.Requirements)
				}
			}

			if len(status.Resources) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintf(out, "%-20s  %-24s  %s\n", "RESOURCE", "CLAIMED BY", "DEFAULT")
				for _, r := range status.Resources {
					fmt.Fprintf(out, "%-20s  %-24s  %s\n", r.Name, dash(r.ClaimedBy), dash(r.DefaultTask))
				}
			}
			return nil
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
