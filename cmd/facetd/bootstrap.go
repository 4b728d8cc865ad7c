package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"facet/internal/config"
	"facet/internal/daemon"
	"facet/internal/logging"
	"facet/internal/orchestrator"
	"facet/internal/pipeline"
	"facet/internal/registry"
	"facet/internal/storage"
)

func bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	store, err := registry.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	reg, err := registry.NewRegistry(ctx, store, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load job registry: %w", err)
	}

	var remote storage.ObjectStore
	if cfg.Storage.RemoteEnabled {
		remote, err = storage.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connect remote tier: %w", err)
		}
		logger.Info("remote artifact tier enabled",
			logging.String("bucket", cfg.Storage.Bucket),
			logging.String("region", cfg.Storage.Region))
	}
	manager := storage.NewManager(cfg, remote, logger)

	binary, err := pipeline.FindEngineBinary(cfg.Pipeline.EngineBinary)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("locate reconstruction engine: %w", err)
	}
	logger.Info("reconstruction engine located", logging.String("binary", binary))

	client, err := pipeline.NewClient(binary, time.Duration(cfg.Pipeline.CancelGrace)*time.Second)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("configure engine client: %w", err)
	}

	orch := orchestrator.New(cfg, reg, manager, client, logger)
	d, err := daemon.New(cfg, store, orch, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

func buildSocketPath(cfg *config.Config) string {
	if cfg == nil {
		return "facet.sock"
	}
	return filepath.Join(cfg.Paths.LogDir, "facet.sock")
}
