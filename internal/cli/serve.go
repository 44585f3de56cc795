package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfinsec/kestrel/internal/api"
	"github.com/openfinsec/kestrel/internal/bus"
	"github.com/openfinsec/kestrel/internal/cache"
	"github.com/openfinsec/kestrel/internal/repository"
	"github.com/openfinsec/kestrel/internal/rules"
	"github.com/openfinsec/kestrel/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run results and rule management over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		ctx := cmd.Context()

		repo, err := repository.New(cfg.Repository)
		if err != nil {
			return fmt.Errorf("failed to initialize repository: %w", err)
		}
		defer repo.Close()
		slog.Info("repository initialized", "driver", cfg.Repository.Driver)

		cacheImpl, err := cache.New(cfg.Cache)
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		defer cacheImpl.Close()
		slog.Info("cache initialized", "type", cfg.Cache.Type)

		busImpl, err := bus.New(cfg.EventBus)
		if err != nil {
			return fmt.Errorf("failed to initialize event bus: %w", err)
		}
		defer busImpl.Close()
		slog.Info("event bus initialized", "type", cfg.EventBus.Type)

		engine, err := rules.NewEngine()
		if err != nil {
			return fmt.Errorf("failed to initialize rule engine: %w", err)
		}
		configs, err := repo.ListRuleConfigs(ctx)
		if err != nil {
			return fmt.Errorf("failed to load rule configs: %w", err)
		}
		if err := engine.LoadRules(configs); err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

		server := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, version.Version)

		// Handle shutdown signals
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		errCh := make(chan error, 1)
		go func() {
			slog.Info("http server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
			errCh <- server.Start()
		}()

		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig)
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		slog.Info("server stopped")
		return nil
	},
}
