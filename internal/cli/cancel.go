package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "cancel [task_id]",
		Short: "Cancel a running task (or all of them) on a served scheduler",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all takes no task id")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("requires a task id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if all {
				resp, err := client.Post(cmd.Context(), "/api/v1/scheduler/cancel-all", nil)
				if err != nil {
					return fmt.Errorf("cancel all: %w", err)
				}
				var data struct {
					Cancelled int `json:"cancelled"`
				}
				if err := json.Unmarshal(resp.Data, &data); err != nil {
					return fmt.Errorf("parse response: %w", err)
				}
				fmt.Fprintf(out, "Cancelled %d task(s)\n", data.Cancelled)
				return nil
			}

			id := args[0]
			if _, err := client.Post(cmd.Context(), "/api/v1/scheduler/tasks/"+id+"/cancel", nil); err != nil {
				return fmt.Errorf("cancel task: %w", err)
			}
			fmt.Fprintf(out, "Task %s: cancelled\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Cancel every running task")
	return cmd
}
