package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agri-ledger/internal/router"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "agri-ledger",
		Short:        "Wallet, escrow, loan and credit ledger for the agricultural marketplace",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(runSchedulesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		migrate      bool
		noScheduler  bool
		shutdownWait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the scheduled payment runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate {
				if err := a.migrate(ctx); err != nil {
					return err
				}
			}

			server := &http.Server{
				Addr:              ":" + a.cfg.Port,
				Handler:           router.SetupRouter(a.finance, a.cfg, a.log),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.log.Info().Str("port", a.cfg.Port).Msg("Server listening")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			})
			if !noScheduler {
				g.Go(func() error {
					return a.scheduler.Run(gctx)
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				a.log.Info().Msg("Shutdown signal received")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					a.log.Error().Err(err).Msg("Graceful shutdown failed")
				}
				return nil
			})

			err = g.Wait()
			a.log.Info().Msg("Server stopped")
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "run schema migrations before serving")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not execute due scheduled payments in this process")
	cmd.Flags().DurationVar(&shutdownWait, "shutdown-timeout", 5*time.Second, "time allowed for in-flight requests on shutdown")

	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.migrate(cmd.Context())
		},
	}
}

func runSchedulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-schedules",
		Short: "Execute every scheduled payment that is due, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.scheduler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "due=%d executed=%d failed=%d\n", stats.Due, stats.Executed, stats.Failed)
			return nil
		},
	}
}
