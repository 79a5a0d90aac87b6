// Package main contains the entrypoint for the NouMeal nutrition server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quangtienngo661/NouMeal-be/internal/agent"
	"github.com/quangtienngo661/NouMeal-be/internal/config"
	"github.com/quangtienngo661/NouMeal-be/internal/gemini"
	"github.com/quangtienngo661/NouMeal-be/internal/logger"
	"github.com/quangtienngo661/NouMeal-be/internal/recognition"
	"github.com/quangtienngo661/NouMeal-be/internal/server"
	"github.com/quangtienngo661/NouMeal-be/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components (config, logger, store, adapters, HTTP
// server), blocks until shutdown, and returns the process exit code.
func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	st, err := newStore(ctx, cfg.Store, log)
	if err != nil {
		log.Error("Failed to initialize store", "error", err)
		return 1
	}

	recognizer := recognition.NewClient(cfg.Recognition, log)

	generator, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	ops := agent.NewOperations(recognizer, generator, log)
	registry, err := agent.DefaultRegistry(ops)
	if err != nil {
		log.Error("Failed to build capability registry", "error", err)
		return 1
	}
	dispatcher := agent.NewDispatcher(registry, log)
	classifier := agent.NewClassifier(generator, registry, log)
	workflows := agent.NewWorkflows(dispatcher, log)

	srv := server.New(cfg.Server, cfg.Agent, log, st, ops, dispatcher, classifier, workflows)

	log.Info("Starting server...", "capabilities", registry.Names())
	runErr := srv.Run(ctx)
	log.Info("Server run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Server stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Server stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}

// newStore selects the session/profile backend: Redis when an address is
// configured, in-process memory otherwise.
func newStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (store.Store, error) {
	if cfg.RedisAddr == "" {
		log.Info("Using in-memory store")
		return store.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	st := store.NewRedisStore(client, log)
	if err := st.Ping(ctx); err != nil {
		return nil, err
	}
	log.Info("Using Redis store", "addr", cfg.RedisAddr)
	return st, nil
}
