package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/retro/internal/logging"
	"github.com/dyluth/retro/internal/printer"
	"github.com/dyluth/retro/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	Long: `Run the board API server.

The server exposes the REST API under /api/v1, a websocket stream of board
changes at /api/v1/boards/{board_id}/events and Prometheus metrics at
/metrics. Without a redis section in retro.yml boards are kept in memory and
are lost when the server stops.

With Redis, a lock reaper releases expired editing locks and announces them
as node_unlock events.

Examples:
  # Serve in-memory boards on the default address
  retro serve

  # Serve a Redis instance on another port
  RETRO_REDIS_URL=redis://localhost:6379/0 retro serve --addr :8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "addr", "", "Listen address (overrides http.address)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddress != "" {
		cfg.HTTP.Address = serveAddress
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer b.Close()

	if !cfg.UsesRedis() {
		printer.Warning("No redis.url configured: boards are kept in memory and lost on exit\n")
	}

	srv, err := server.New(cfg.HTTP.Address, server.Dependencies{
		Engine:      b.engine,
		Gatherer:    b.registry,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if b.redis != nil {
		go b.redis.RunLockReaper(ctx, cfg.Redis.ReaperInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("retro server started",
		zap.String("address", cfg.HTTP.Address),
		zap.String("instance", cfg.Instance),
		zap.Bool("redis", cfg.UsesRedis()),
		zap.Bool("index", b.index != nil))

	select {
	case err := <-errCh:
		if err != nil {
			return printer.ErrorWithContext(
				"server failed",
				err.Error(),
				map[string]string{"address": cfg.HTTP.Address},
				[]string{"Check the address is free, or choose another with --addr"},
			)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
