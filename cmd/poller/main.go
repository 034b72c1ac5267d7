package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sorajobs/internal/adapter/repo"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("poller: db connection failed")
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("poller: failed to apply migrations")
	}

	var schedule *queue.PollSchedule
	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("poller: redis unavailable, relying on SQL sweep only")
	} else {
		defer redisClient.Close()
		schedule = queue.NewPollSchedule(redisClient)
	}

	registry, err := infra.BuildProviders(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("poller: failed to configure providers")
	}

	jobs := repo.NewJobRepository(pool)
	reconciler := lifecycle.NewReconciler(jobs, logger)
	jobPoller := poller.New(jobs, registry, reconciler, schedule, logger, poller.Options{
		Interval:   cfg.PollInterval,
		StaleAfter: cfg.PollStaleAfter,
	})

	logger.Info().Dur("interval", cfg.PollInterval).Int("batch", cfg.PollBatchSize).Msg("poller: started")
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.Canceled) {
				logger.Error().Err(ctx.Err()).Msg("poller: stopped with error")
			}
			logger.Info().Msg("poller: stopped")
			return
		case <-ticker.C:
			processed, updated, err := jobPoller.Run(ctx, cfg.PollBatchSize)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("poller: sweep failed")
				continue
			}
			if processed > 0 {
				logger.Info().Int("processed", processed).Int("updated", updated).Msg("poller: sweep complete")
			}
		}
	}
}
