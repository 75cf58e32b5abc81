package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all invoices and payment records",
	Long: `Delete every invoice, payment intent and payment link from the database.

Examples:
  invoicepay reset          # Asks before deleting
  invoicepay reset --yes    # No prompt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !confirmPrompt("This will delete ALL invoices and payment records. Continue?") {
			fmt.Println("Cancelled.")
			return nil
		}

		if err := appInstance.Reset(context.Background()); err != nil {
			return fmt.Errorf("failed to reset: %w", err)
		}

		fmt.Println("All invoices and payment records have been deleted.")
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
}
