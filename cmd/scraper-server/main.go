package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maltedev/company-scraper/internal/api"
	"github.com/maltedev/company-scraper/internal/app"
	"github.com/maltedev/company-scraper/internal/config"
	"github.com/maltedev/company-scraper/internal/task"
	"github.com/maltedev/company-scraper/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using the environment")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	manager := task.NewManager(ctx, a.Orchestrator, log)

	handlers := api.NewHandlers(api.Options{
		Tasks:      manager,
		Snapshot:   a.Snapshot,
		Tokens:     a.Accounts,
		History:    a.History,
		Backlog:    a.Progress(),
		OutputPath: a.OutputPath(),
		Delay:      cfg.Scraper.PageDelay,
	}, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}

		// Cancelling the base context stops a running batch; wait for it to
		// record its terminal state before the clients go away.
		cancel()
		if _, err := manager.Wait(shutdownCtx); err != nil && shutdownCtx.Err() != nil {
			log.Warn("batch did not stop in time", "error", err)
		}
		if err := a.Close(shutdownCtx); err != nil {
			log.Error("failed to close", "error", err)
		}
	}()

	log.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-stopped
	log.Info("server stopped")
}
