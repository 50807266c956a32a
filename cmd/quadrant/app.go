package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/UnknownOlympus/quadrant/internal/geocoding"
	"github.com/UnknownOlympus/quadrant/internal/metrics"
	"github.com/UnknownOlympus/quadrant/internal/provider"
	"github.com/UnknownOlympus/quadrant/internal/queue"
	"github.com/UnknownOlympus/quadrant/internal/repository"
	"github.com/UnknownOlympus/quadrant/internal/service"
)

// openQueue connects to Redis and returns the shared queue with its client.
func (a *app) openQueue(ctx context.Context) (*queue.RedisQueue, *redis.Client, error) {
	client, err := queue.NewRedisClient(ctx, queue.RedisConfig{
		Addr:      a.cfg.Redis.Addr,
		Password:  a.cfg.Redis.Password,
		DB:        a.cfg.Redis.DB,
		KeyPrefix: a.cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, nil, err
	}
	return queue.NewRedisQueue(client, a.cfg.Redis.KeyPrefix, nil), client, nil
}

// openRepository connects to Postgres and returns the business repository with its pool.
func (a *app) openRepository(ctx context.Context) (repository.Interface, *pgxpool.Pool, error) {
	pool, err := repository.NewDatabase(ctx, repository.PostgresConfig{
		Host:     a.cfg.Postgres.Host,
		Port:     a.cfg.Postgres.Port,
		User:     a.cfg.Postgres.User,
		Password: a.cfg.Postgres.Password,
		Name:     a.cfg.Postgres.Name,
		SSLMode:  a.cfg.Postgres.SSLMode,
		MaxConns: a.cfg.Postgres.MaxConns,
	})
	if err != nil {
		return nil, nil, err
	}
	return repository.NewRepository(pool, a.log), pool, nil
}

// newProvider builds the configured search provider wrapped with metrics.
func (a *app) newProvider(m *metrics.Metrics) (provider.Provider, error) {
	p, err := provider.NewProvider(provider.Config{
		Type:      provider.Type(a.cfg.Provider.Type),
		Login:     a.cfg.Provider.Login,
		Password:  a.cfg.Provider.Password,
		APIKey:    a.cfg.Provider.APIKey,
		BaseURL:   a.cfg.Provider.BaseURL,
		RateLimit: a.cfg.Provider.RateLimit,
		JobTTL:    a.jobTTL(),
		Logger:    a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create search provider: %w", err)
	}
	return provider.NewInstrumented(p, a.cfg.Provider.Type, m), nil
}

// jobTTL outlives the whole poll budget of one task.
func (a *app) jobTTL() time.Duration {
	return time.Duration(a.cfg.Worker.PollAttempts)*a.cfg.Worker.PollDelay + time.Minute
}

// newLocator builds the configured place lookup.
func (a *app) newLocator() (geocoding.Locator, error) {
	locator, err := geocoding.NewLocator(geocoding.Config{
		Type:   geocoding.LocatorType(a.cfg.Locator.Type),
		APIKey: a.cfg.Locator.APIKey,
		Logger: a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create place locator: %w", err)
	}
	return locator, nil
}

// workerConfig maps the loaded tunables onto the orchestrator.
func (a *app) workerConfig() service.WorkerConfig {
	w := a.cfg.Worker
	return service.WorkerConfig{
		Capacity:            w.Capacity,
		SplitThreshold:      w.SplitThreshold,
		PollAttempts:        w.PollAttempts,
		PollDelay:           w.PollDelay,
		StaleTimeout:        w.StaleTimeout,
		RecoveryProbability: w.RecoveryProbability,
		UpsertConcurrency:   w.UpsertConcurrency,
		StatsInterval:       w.StatsInterval,
		MinWidth:            w.MinWidth,
		Backoff: service.Backoff{
			AtCapacity: w.Backoff.AtCapacity,
			Idle:       w.Backoff.Idle,
			OnError:    w.Backoff.OnError,
		},
	}
}
