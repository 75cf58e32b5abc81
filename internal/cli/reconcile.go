package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Settle stale pending payments against the gateway once",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := appInstance.Reconciler.RunOnce(context.Background())
		if err != nil {
			return fmt.Errorf("failed to reconcile payments: %w", err)
		}

		fmt.Printf("Checked:   %d\n", report.Checked)
		fmt.Printf("Succeeded: %d\n", report.Succeeded)
		fmt.Printf("Failed:    %d\n", report.Failed)
		fmt.Printf("Pending:   %d\n", report.Pending)
		if report.Errors > 0 {
			fmt.Printf("Errors:    %d (see log)\n", report.Errors)
		}
		return nil
	},
}
