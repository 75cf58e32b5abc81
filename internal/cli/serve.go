package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive webhooks and reconcile pending payments",
	Long: `Run the HTTP server for gateway webhooks and the invoice API, together
with the background reconciler for payments whose webhook never arrived.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = appInstance.Config.Webhook.Addr
		}
		noReconcile, _ := cmd.Flags().GetBool("no-reconcile")

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return appInstance.Server().Run(ctx, addr)
		})
		if !noReconcile {
			g.Go(func() error {
				return appInstance.Reconciler.Run(ctx)
			})
		}

		fmt.Printf("Listening on %s\n", addr)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (defaults to webhook.addr from config)")
	serveCmd.Flags().Bool("no-reconcile", false, "Do not run the background reconciler")
}
