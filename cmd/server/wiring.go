package main

import (
	"context"
	"fmt"
	"log/slog"

	"tokenbank/internal/platform/config"
	"tokenbank/internal/platform/kafka"
	"tokenbank/internal/platform/postgres"
	"tokenbank/internal/platform/redis"
	"tokenbank/internal/ratelimit"
	"tokenbank/internal/storage"
	badgerstore "tokenbank/internal/storage/badger"
	"tokenbank/internal/storage/memory"
	pgstore "tokenbank/internal/storage/postgres"
	"tokenbank/pkg/platform/middleware/auth"
	"tokenbank/pkg/platform/outbox"
)

const (
	ledgerTopicPartitions  = 3
	ledgerTopicReplication = -1 // broker default
)

func openBackend(ctx context.Context, cfg config.Server, log *slog.Logger) (storage.Backend, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := pgstore.Migrate(ctx, db, log); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return pgstore.New(db, pgstore.WithLogger(log)), nil
	case config.StoreBadger:
		b, err := badgerstore.Open(cfg.Badger.Dir, badgerstore.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		return b, nil
	default:
		log.Warn("using in-memory storage; state is lost on restart")
		return memory.New(), nil
	}
}

// sharedState holds the stores that must be shared between replicas: the
// nonce replay guard and the rate limiter windows. Without Redis both are
// process local.
type sharedState struct {
	nonces  auth.NonceStore
	limiter ratelimit.Store
	close   func()
}

func newSharedState(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (*sharedState, error) {
	client, err := redis.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Info("redis not configured; nonces and rate limits are per process")
		return &sharedState{
			nonces:  auth.NewMemoryNonceStore(),
			limiter: ratelimit.NewMemoryStore(),
			close:   func() {},
		}, nil
	}
	return &sharedState{
		nonces:  redis.NewNonceStore(client.Client),
		limiter: ratelimit.NewRedisStore(client.Client),
		close: func() {
			if err := client.Close(); err != nil {
				log.Error("failed to close redis client", "error", err)
			}
		},
	}, nil
}

func newLimiter(store ratelimit.Store, cfg config.RateLimitConfig, log *slog.Logger) *ratelimit.Middleware {
	return ratelimit.New(store, log,
		ratelimit.WithMetrics(ratelimit.NewMetrics()),
		ratelimit.WithIPRule(ratelimit.Rule{Limit: cfg.PerIP, Window: cfg.Window}),
		ratelimit.WithSignerRule(ratelimit.Rule{Limit: cfg.PerSigner, Window: cfg.Window}),
	)
}

func newRelay(ctx context.Context, cfg config.Server, source outbox.Source, log *slog.Logger) (*outbox.Relay, func(), error) {
	var (
		publisher outbox.Publisher
		cleanup   = func() {}
	)
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("kafka not configured; ledger events are relayed to the log")
		publisher = outbox.NewLogPublisher(log)
	} else {
		client, err := kafka.NewClient(ctx, cfg.Kafka)
		if err != nil {
			return nil, nil, err
		}
		if err := kafka.EnsureTopic(ctx, client, cfg.Kafka.Topic, ledgerTopicPartitions, ledgerTopicReplication); err != nil {
			client.Close()
			return nil, nil, err
		}
		publisher = kafka.NewPublisher(client, cfg.Kafka.Topic)
		cleanup = client.Close
	}

	relay, err := outbox.NewRelay(source, publisher,
		outbox.WithLogger(log),
		outbox.WithMetrics(outbox.NewMetrics()),
		outbox.WithInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return relay, cleanup, nil
}
