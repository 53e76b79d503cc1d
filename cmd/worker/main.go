// Package main provides the job worker entry point for the GMB sync service.
// It runs the worker pool and, when enabled, the periodic discovery scheduler.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gmb-sync/internal/bootstrap"
	"github.com/gmb-sync/internal/config"
	"github.com/gmb-sync/internal/job"
	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/scheduler"
	"github.com/gmb-sync/internal/worker"
)

func main() {
	log.Println("GMB Sync Worker starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	infra, err := bootstrap.Setup(cfg, "gmb-sync-worker")
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer infra.Close()

	logger := infra.Logger
	ctx := logging.WithLogger(context.Background(), logger)
	syncCfg := cfg.SyncConfig()

	processor, err := worker.NewProcessor(&worker.ProcessorConfig{
		Source:        infra.Source,
		Tokens:        infra.Tokens,
		Jobs:          infra.Jobs,
		Accounts:      infra.Accounts,
		Locations:     infra.Locations,
		Reviews:       infra.Reviews,
		Resources:     infra.Resources,
		Reporter:      infra.Tracker,
		Metrics:       infra.Metrics,
		ChildPriority: syncCfg.ChildPriority,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create job processor")
	}

	pool, err := job.NewPool(job.PoolConfig{
		Queue:           infra.Jobs,
		Processor:       processor,
		Metrics:         infra.Metrics,
		Concurrency:     cfg.Worker.Concurrency,
		PollInterval:    cfg.Worker.PollInterval,
		RetryBackoff:    cfg.Worker.RetryBackoff,
		StaleJobTimeout: cfg.Worker.StaleJobTimeout,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create worker pool")
	}

	if err := pool.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start worker pool")
	}
	logger.WithField("concurrency", cfg.Worker.Concurrency).Info("Worker pool started")

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(cfg.Scheduler, infra.Accounts, infra.Jobs)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create discovery scheduler")
		}
		if err := sched.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start discovery scheduler")
		}
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.Worker.MetricsPort,
		Handler:           promhttp.HandlerFor(infra.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics listener failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, stopping worker...")

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	if err := pool.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Worker pool did not drain cleanly")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Metrics listener shutdown failed")
	}

	logger.Info("Worker stopped. Goodbye!")
}
