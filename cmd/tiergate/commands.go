package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			app, err := a.newServer(ctx)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Addr()
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- app.Listen(addr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info("[Shutdown] signal received, draining requests")
				return app.ShutdownWithTimeout(shutdownTimeout)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default APP_HOST:APP_PORT)")
	return cmd
}

func resolveCmd() *cobra.Command {
	var userID uint

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the tier a user currently resolves to",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errors.New("--user is required")
			}
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.resolver.ResolveTier(ctx, userID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().UintVar(&userID, "user", 0, "user id")
	return cmd
}

func rebalanceCmd() *cobra.Command {
	var userID uint

	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Recompute which subscription record entitles a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errors.New("--user is required")
			}
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			tier, err := a.reconciler.Rebalance(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d resolves to %s\n", userID, tier)
			return nil
		},
	}

	cmd.Flags().UintVar(&userID, "user", 0, "user id")
	return cmd
}
