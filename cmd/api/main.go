package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"sorajobs/internal/adapter/repo"
	"sorajobs/internal/http/handlers"
	"sorajobs/internal/http/httpapi"
	"sorajobs/internal/infra"
	"sorajobs/internal/lifecycle"
	"sorajobs/internal/poller"
	"sorajobs/internal/queue"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply migrations")
	}

	var schedule *queue.PollSchedule
	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, poll scheduling falls back to SQL sweep")
	} else {
		defer redisClient.Close()
		schedule = queue.NewPollSchedule(redisClient)
	}

	registry, err := infra.BuildProviders(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure providers")
	}

	jobs := repo.NewJobRepository(pool)
	ledger := repo.NewLedgerRepository(pool)
	events := repo.NewWebhookEventRepository(pool)
	reconciler := lifecycle.NewReconciler(jobs, logger)
	jobPoller := poller.New(jobs, registry, reconciler, schedule, logger, poller.Options{
		Interval:   cfg.PollInterval,
		StaleAfter: cfg.PollStaleAfter,
	})

	app := &handlers.App{
		Jobs:       jobs,
		Ledger:     ledger,
		Events:     events,
		Providers:  registry,
		Reconciler: reconciler,
		Poller:     jobPoller,
		Schedule:   schedule,
		Logger:     logger,
		Config:     cfg,
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api listening")
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
