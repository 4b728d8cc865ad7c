package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"facet/internal/daemon"
	"facet/internal/ipc"
	"facet/internal/logging"
	"facet/internal/orchestrator"
	"facet/internal/pipeline"
	"facet/internal/registry"
	"facet/internal/storage"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the facet daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	if ctx == nil {
		return fmt.Errorf("command context is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := registry.Open(cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	reg, err := registry.NewRegistry(signalCtx, store, logger)
	if err != nil {
		return fmt.Errorf("load job registry: %w", err)
	}

	var remote storage.ObjectStore
	if cfg.Storage.RemoteEnabled {
		remote, err = storage.NewS3Store(signalCtx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("connect remote tier: %w", err)
		}
	}
	manager := storage.NewManager(cfg, remote, logger)

	binary, err := pipeline.FindEngineBinary(cfg.Pipeline.EngineBinary)
	if err != nil {
		return fmt.Errorf("locate reconstruction engine: %w", err)
	}

	client, err := pipeline.NewClient(binary, time.Duration(cfg.Pipeline.CancelGrace)*time.Second)
	if err != nil {
		return fmt.Errorf("configure engine client: %w", err)
	}

	orch := orchestrator.New(cfg, reg, manager, client, logger)
	d, err := daemon.New(cfg, store, orch, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := filepath.Join(cfg.Paths.LogDir, "facet.sock")
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("facet daemon shutting down")
	return nil
}
