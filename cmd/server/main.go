package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/panel-merge-server/internal/api"
	"github.com/panel-merge-server/internal/config"
	"github.com/panel-merge-server/internal/domain"
	"github.com/panel-merge-server/internal/service"
	"github.com/panel-merge-server/pkg/registry"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := config.NewLogger(cfg.Logging)
	logger.Infof("Starting Panel Merge Server on %s:%d", cfg.Server.Host, cfg.Server.Port)

	// One registry client per remote source
	fetchers := make(map[domain.Source]service.Fetcher, len(domain.RegistrySources))
	for _, source := range domain.RegistrySources {
		regCfg, err := configManager.RegistryConfig(source)
		if err != nil {
			log.Fatalf("Failed to resolve registry configuration: %v", err)
		}
		fetchers[source] = registry.NewClient(source, regCfg, logger)
	}

	// Engine components
	cache, err := service.NewPanelCache(fetchers, cfg.Cache, logger)
	if err != nil {
		log.Fatalf("Failed to create panel cache: %v", err)
	}
	index := service.NewGeneIndex(cache, cfg.Index, logger)
	engine := service.NewMergeEngine(cache, service.NewIngestor(logger), logger)
	workbook := service.NewWorkbookBuilder(logger)

	// Create server
	server := api.NewServer(cfg, cache, index, engine, workbook, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	logger.Info("Server stopped")
}
