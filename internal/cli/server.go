package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/camppoints/exchanged/internal/di"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the exchange daemon",
	Long: `server brings up the full kernel: the ledger and escrow stores, the
matching engine, the order lifecycle service, the market clock, the sharded
router, the event bus, the integrity auditor, and the gRPC health surface.
It runs until interrupted.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if debug || verbose {
		logLevel = slog.LevelDebug
	}
	if quiet {
		logLevel = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	container := di.New()
	provider := di.NewProvider(container, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := provider.RegisterAll(ctx); err != nil {
		return fmt.Errorf("register services: %w", err)
	}
	if err := provider.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	logger.Info("exchanged started", "grpc_address", cfg.Server.GRPCAddress)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	provider.Stop(shutdownCtx)
	return nil
}
