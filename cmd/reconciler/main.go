package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"storyboard/internal/adapter/repo"
	"storyboard/internal/executor"
	"storyboard/internal/infra"
	"storyboard/internal/orchestrator"
)

// The reconciler daemon owns the polling loop. Running it separately from the
// API keeps status reads cheap while one process converges stored job state
// with executor-observed state.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "reconciler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	exec, err := executor.NewHTTPClient(executor.Options{
		BaseURLs:        cfg.ExecutorURLs,
		DispatchTimeout: cfg.DispatchTimeout,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("executor client init failed")
	}

	reconciler := orchestrator.NewReconciler(
		repo.NewJobRepository(pool),
		repo.NewDeadLetterRepository(pool),
		exec,
		orchestrator.ReconcilerOptions{
			Interval:         cfg.PollInterval,
			UnavailableAfter: cfg.UnavailableAfter,
			MaxAttempts:      cfg.MaxAttempts,
		},
		logger,
	)

	if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("reconciler stopped")
		os.Exit(1)
	}
	logger.Info().Msg("reconciler stopped")
}
