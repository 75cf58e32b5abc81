package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Apply payment gateway events",
}

var webhookApplyCmd = &cobra.Command{
	Use:   "apply [file]",
	Short: "Apply a webhook payload from a file (use - for stdin)",
	Long: `Apply a payment gateway webhook payload without running the server.
Useful for replaying deliveries captured from the gateway dashboard.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()
			r = f
		}

		payload, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}

		signature, _ := cmd.Flags().GetString("signature")
		res, err := appInstance.WebhookService.HandlePayload(context.Background(), payload, signature)
		if err != nil {
			return fmt.Errorf("failed to apply webhook: %w", err)
		}

		switch {
		case res.Duplicate:
			fmt.Printf("= %s (duplicate)\n", res.Message)
		case res.Success:
			fmt.Printf("✓ %s\n", res.Message)
		default:
			fmt.Printf("✗ %s\n", res.Message)
		}
		return nil
	},
}

func init() {
	webhookCmd.AddCommand(webhookApplyCmd)
	webhookApplyCmd.Flags().String("signature", "", "Stripe-Signature header of the delivery")
}
