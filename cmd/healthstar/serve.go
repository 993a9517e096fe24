package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/auth"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/config"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/server"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/storage"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/warehouse"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the configured source and serve the query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, closeSrc, err := openSource(ctx, cfg.Source, cfg.GenerateSeed, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer closeSrc()

	// SQL mirror
	var mirror *storage.Storage
	if cfg.SQLMirror {
		mirror, err = storage.New(cfg.DuckDBPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := mirror.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing sql mirror")
			}
		}()
		path := cfg.DuckDBPath
		if path == "" {
			path = ":memory:"
		}
		logger.Info().Str("path", path).Msg("sql mirror ready")
	}

	// API keys
	var authProvider *auth.Auth
	if cfg.AuthEnabled {
		authProvider, err = auth.New(cfg.AuthDBPath, cfg.AuthPepper, logger)
		if err != nil {
			return err
		}
		defer authProvider.Close()
		if err := authProvider.Bootstrap(ctx, cfg.BootstrapKey); err != nil {
			return err
		}
		logger.Info().Str("path", cfg.AuthDBPath).Msg("api key auth enabled")
	} else {
		logger.Warn().Msg("api key auth disabled, every endpoint is public")
	}

	wh := warehouse.New(warehouse.Options{
		Source: src,
		Mirror: mirror,
		Verify: cfg.Verify,
		Logger: logger,
	})
	if _, err := wh.Refresh(ctx); err != nil {
		return err
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		wh.StartRefreshWorker(ctx, cfg.RefreshInterval)
	}()

	srv := server.New(server.Config{
		Addr:               cfg.Addr,
		MaxConcurrentQuery: cfg.MaxConcurrent,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		QueryTimeout:       cfg.QueryTimeout,
		QueryOptions:       cfg.QueryOptions(),
		RefreshInterval:    cfg.RefreshInterval,
	}, wh, authProvider, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("source", src.String()).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	<-workerDone
	logger.Info().Msg("server stopped")
	return nil
}
