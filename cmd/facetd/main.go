package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"facet/internal/config"
	"facet/internal/ipc"
	"facet/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Credentials for the remote tier usually live in a .env next to the
	// service unit; absence is fine.
	_ = godotenv.Load()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	d, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap daemon", logging.Error(err))
		return
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(ctx, buildSocketPath(cfg), d, logger)
	if err != nil {
		logger.Error("start IPC server", logging.Error(err))
		return
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("facetd shutting down")
	d.Stop()
}
