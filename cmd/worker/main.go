package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kurihiro0119/github-issue-worker/internal/api"
	"github.com/kurihiro0119/github-issue-worker/internal/app"
	"github.com/kurihiro0119/github-issue-worker/internal/broker"
	"github.com/kurihiro0119/github-issue-worker/internal/config"
	"github.com/kurihiro0119/github-issue-worker/internal/logger"
	"github.com/kurihiro0119/github-issue-worker/internal/queue"
	"github.com/kurihiro0119/github-issue-worker/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger.SetVerbose(cfg.Verbose)

	// Initialize storage
	store, err := app.OpenStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s storage: %v", cfg.StorageType, err)
	}
	defer store.Close()

	// The pipeline context is never cancelled: a started task always runs to the end
	ctx := context.Background()

	brokerClient := broker.NewClient(cfg.BrokerURL, cfg.WorkerID)
	ing, err := app.NewIngestion(ctx, cfg, store, brokerClient)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}

	// Queue every repository already in the store
	q := queue.New()
	if _, err := worker.Seed(ctx, store, q); err != nil {
		log.Fatalf("Failed to load repositories: %v", err)
	}
	w := worker.New(q, ing.Pipeline)

	// Task intake for the broker
	handler := api.NewHandler(cfg.WorkerID, store, q, w, ing.Collector.Gate())
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{Addr: addr, Handler: api.SetupRoutes(handler)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Task API stopped: %v", err)
		}
	}()
	logger.Info("Worker %s listening on %s (storage: %s)", cfg.WorkerID, addr, cfg.StorageType)

	if err := brokerClient.Register(ctx, broker.NewRegistration(cfg.WorkerID, "http://"+addr)); err != nil {
		logger.Warn("%v", err)
	}

	// Signals stop the loop between tasks only
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received %s, finishing the current task", sig)
		q.Terminate()
	}()

	runErr := w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Task API shutdown: %v", err)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Worker stopped: %v\n", runErr)
		store.Close()
		os.Exit(1)
	}
}
