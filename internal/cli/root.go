package cli

import (
	"github.com/spf13/cobra"

	"github.com/andy/invoicepay/internal/app"
)

var appInstance *app.App

var rootCmd = &cobra.Command{
	Use:   "invoicepay",
	Short: "Invoices that get paid",
	Long: `Invoicepay drafts invoices, sends them with a payment link and tracks
payments until each invoice is settled.

By default, running invoicepay without arguments launches the interactive TUI.
Use subcommands for CLI operations.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return launchTUI(cmd, args)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetApp sets the app instance for commands to use
func SetApp(a *app.App) {
	appInstance = a
}

func init() {
	rootCmd.AddCommand(invoicesCmd)
	rootCmd.AddCommand(webhookCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(tuiCmd)
}
