// Package main provides the API server entry point for the GMB sync service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gmb-sync/internal/api"
	"github.com/gmb-sync/internal/bootstrap"
	"github.com/gmb-sync/internal/config"
	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/progress"
	"github.com/gmb-sync/internal/service"
)

func main() {
	log.Println("GMB Sync API Server starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	infra, err := bootstrap.Setup(cfg, "gmb-sync-api")
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer infra.Close()

	logger := infra.Logger
	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	syncService, err := service.NewSyncService(&service.SyncServiceConfig{
		Source:    infra.Source,
		Tokens:    infra.Tokens,
		Accounts:  infra.Accounts,
		Committer: infra.Committer,
		Cache:     infra.Cache,
		Audit:     infra.Audit,
		Results:   infra.Events,
		Reporter:  infra.Tracker,
		Metrics:   infra.Metrics,
		Sync:      cfg.SyncConfig(),
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync service")
	}

	// Live progress relay for websocket clients
	hub := progress.NewHub(infra.Redis.Client(), cfg.Server.AllowedOrigins)
	go func() {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("Progress hub stopped")
		}
	}()

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute, // transactional syncs run inside the request
		IdleTimeout:       60 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		IncludeQuestions:  cfg.SyncConfig().IncludeQuestions,
		DiscoveryPriority: cfg.Scheduler.DiscoveryPriority,
	}

	server := api.NewServer(serverConfig, api.Dependencies{
		Sync:     syncService,
		Jobs:     infra.Jobs,
		Accounts: infra.Accounts,
		Events:   infra.Events,
		Progress: hub,
		Metrics:  infra.Metrics,
		Gatherer: infra.Registry,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
