// Package main is the entry point for the analytica API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"analytica/internal/config"
	"analytica/internal/domain/dispatch"
	"analytica/internal/domain/rewrite"
	v1 "analytica/internal/infrastructure/http/v1"
	"analytica/internal/infrastructure/storage/postgres"
	"analytica/internal/reports"
	"analytica/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	log.Info("starting analytica server")

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = cfg.PoolMaxConns
	poolCfg.MinConns = cfg.PoolMinConns

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	// --- Schema registrar and built-in reports ---
	registrar := postgres.NewRegistrar(pool, reports.ReservedTables)
	rewriter := rewrite.New()

	if err := reports.Register(registrar, rewriter, reports.NewCalendarService()); err != nil {
		log.Fatalw("failed to register reports", "error", err)
	}

	if err := registrar.MaterialiseAll(ctx); err != nil {
		log.Fatalw("failed to materialise report views", "error", err)
	}
	log.Infow("report views materialised", "entities", len(registrar.Descriptors()))

	// --- Query dispatcher ---
	repo := postgres.NewViewRepo(pool, registrar)
	resolver := postgres.NewNameResolver(pool, reports.NameSources())

	dispatcher := dispatch.NewService(registrar, repo, rewriter, resolver, dispatch.Config{
		OperationTimeout: cfg.OperationTimeout,
	})

	// --- HTTP server ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:       pool.Pool,
		Logger:     log,
		Dispatcher: dispatcher,
		Registrar:  registrar,
		Debug:      cfg.Development,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
