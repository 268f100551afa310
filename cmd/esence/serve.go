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

	"esence/infrastructure/di"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the node",
	Long: `Boots the identity and the essence store, then serves the peer
protocol, the local control API and the push channel until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	logger := container.Logger
	defer func() { _ = logger.Sync() }()

	if err := container.Node.Boot(ctx); err != nil {
		return fmt.Errorf("failed to boot node: %w", err)
	}

	// No write timeout: /ws connections and owner chat outlive any fixed bound.
	srv := &http.Server{
		Addr:              cfg.Node.ListenAddress,
		Handler:           container.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return container.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting server",
			zap.String("address", cfg.Node.ListenAddress),
			zap.String("did", container.Identity.DID().String()),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Transport.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
			return err
		}
		if err := container.Tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to flush spans", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Server stopped")
	return err
}
