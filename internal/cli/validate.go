package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/cmdbase/internal/scenario"
	"github.com/me/cmdbase/pkg/model"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>...",
		Short: "Check scenario files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			invalid := 0
			for _, path := range args {
				doc, err := scenario.Load(path)
				if err == nil {
					err = doc.Validate()
				}
				if err == nil {
					fmt.Fprintf(out, "ok  %s  (%s: %d resources, %d tasks, %d triggers)\n",
						path, doc.Name, len(doc.Resources), len(doc.Tasks), len(doc.Triggers))
					continue
				}

				invalid++
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) {
					fmt.Fprintf(out, "FAIL  %v\n", err)
					continue
				}
				fmt.Fprintf(out, "FAIL  %s: %s\n", path, apiErr.Message)
				for _, d := range apiErr.Details {
					fmt.Fprintf(out, "      %s: %s\n", d.Field, d.Message)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d scenario(s) invalid", invalid, len(args))
			}
			return nil
		},
	}
}
