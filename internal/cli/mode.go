package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/cmdbase/pkg/model"
)

func newModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mode [disabled|autonomous|teleop|test]",
		Short: "Show or change the robot mode of a served scheduler",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp *apiResponse
			var err error
			if len(args) == 0 {
				resp, err = client.Get(cmd.Context(), "/api/v1/robot/mode")
			} else {
				m, ok := model.ParseRobotMode(args[0])
				if !ok {
					return fmt.Errorf("unknown mode %q", args[0])
				}
				resp, err = client.Put(cmd.Context(), "/api/v1/robot/mode", map[string]any{"mode": m})
			}
			if err != nil {
				return fmt.Errorf("robot mode: %w", err)
			}

			var data struct {
				Mode      model.RobotMode `json:"mode"`
				Requested model.RobotMode `json:"requested"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			out := cmd.OutOrStdout()
			if data.Requested != "" && data.Requested != data.Mode {
				fmt.Fprintf(out, "Mode: %s (requested %s)\n", data.Mode, data.Requested)
				return nil
			}
			fmt.Fprintf(out, "Mode: %s\n", data.Mode)
			return nil
		},
	}
}
