package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Run one refresh cycle and print its report as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer appInstance.Close(cmd.Context())

			report, runErr := appInstance.RefreshOnce(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			if runErr != nil {
				return fmt.Errorf("refresh failed: %w", runErr)
			}
			return nil
		},
	}
}
