package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"storyboard/internal/access"
	"storyboard/internal/adapter/repo"
	"storyboard/internal/audit"
	"storyboard/internal/executor"
	"storyboard/internal/http/handlers"
	"storyboard/internal/http/httpapi"
	"storyboard/internal/infra"
	"storyboard/internal/infra/geoip"
	"storyboard/internal/orchestrator"
	"storyboard/internal/safety"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	jobs := repo.NewJobRepository(pool)
	batches := repo.NewBatchRepository(pool)
	entities := repo.NewEntityRepository(pool)
	grants := repo.NewGrantRepository(pool)
	audits := repo.NewAuditRepository(pool)
	deadletters := repo.NewDeadLetterRepository(pool)

	resolver := access.NewResolver(entities, grants, logger)

	var classifier safety.Classifier
	if cfg.SafetyClassifierURL != "" {
		classifier = safety.NewHTTPClassifier(cfg.SafetyClassifierURL, nil)
	} else {
		classifier = safety.NewHeuristicClassifier()
	}
	gate := safety.NewGate(classifier, nil, cfg.SafetyTimeout, logger)

	geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	emitter := audit.NewEmitter(audits, geo, logger)

	exec, err := executor.NewHTTPClient(executor.Options{
		BaseURLs:        cfg.ExecutorURLs,
		DispatchTimeout: cfg.DispatchTimeout,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("executor client init failed")
	}

	dispatcher := orchestrator.NewDispatcher(jobs, resolver, gate, exec, emitter, logger)
	coordinator := orchestrator.NewCoordinator(dispatcher, jobs, batches, cfg.BatchWidth, logger)
	reconciler := orchestrator.NewReconciler(jobs, deadletters, exec, orchestrator.ReconcilerOptions{
		Interval:         cfg.PollInterval,
		UnavailableAfter: cfg.UnavailableAfter,
		MaxAttempts:      cfg.MaxAttempts,
	}, logger)

	app := &handlers.App{
		Jobs:          dispatcher,
		Batches:       coordinator,
		Reader:        reconciler,
		Callbacks:     reconciler,
		Authz:         resolver,
		JobStore:      jobs,
		DeadLetters:   deadletters,
		CallbackToken: cfg.CallbackToken,
		Logger:        logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		AuthSecret:      cfg.AuthSecret,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
