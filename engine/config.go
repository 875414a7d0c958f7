package engine

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/notify/amqp"
	"github.com/xraph/backlog/store/postgres"
	redisstore "github.com/xraph/backlog/store/redis"
	"github.com/xraph/backlog/store/sqlite"
	"github.com/xraph/backlog/worker"
)

// Open builds an Engine from process configuration: a Redis queue store,
// the configured failure store (migrated), the codec, the id provider,
// worker defaults and, when configured, the AMQP event publisher. Close
// releases everything Open created.
func Open(ctx context.Context, cfg backlog.Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := redisstore.New(client, redisstore.WithPrefix(cfg.Redis.Prefix), redisstore.WithLogger(logger))
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("backlog: connect redis %s: %w", cfg.Redis.Addr, err)
	}

	base := []Option{WithLogger(logger), WithCloser(client)}
	cleanup := func() {
		_ = client.Close()
	}

	failed, closer, err := openFailureStore(ctx, cfg.Failed, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	if failed != nil {
		base = append(base, WithFailureStore(failed))
	}
	if closer != nil {
		base = append(base, WithCloser(closer))
		prev := cleanup
		cleanup = func() { _ = closer.Close(); prev() }
	}

	codec, err := job.CodecByName(cfg.Queue.Codec)
	if err != nil {
		cleanup()
		return nil, err
	}
	ids, err := id.ProviderByName(cfg.Queue.IDs)
	if err != nil {
		cleanup()
		return nil, err
	}
	base = append(base,
		WithCodec(codec),
		WithIDProvider(ids),
		WithQueueName(cfg.Queue.Name),
		WithJobDefaults(
			job.WithMaxAttempts(cfg.Queue.MaxAttempts),
			job.WithRetryAfter(cfg.Queue.RetryAfter),
			job.WithRunningTimeout(cfg.Queue.RunningTimeout),
		),
		WithWorkerOptions(workerOptions(cfg.Worker)...),
	)

	if cfg.AMQP.URL != "" {
		pub, err := amqp.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, amqp.WithLogger(logger))
		if err != nil {
			cleanup()
			return nil, err
		}
		base = append(base, WithExtension(pub), WithCloser(pub))
	}

	return New(store, append(base, opts...)...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openFailureStore(ctx context.Context, cfg backlog.FailedConfig, logger *slog.Logger) (dlq.Store, closerFunc, error) {
	switch cfg.Driver {
	case "redis", "":
		// The queue store records failures itself.
		return nil, nil, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: failed.driver %q", backlog.ErrInvalidConfig, cfg.Driver)
	}
}

func workerOptions(cfg backlog.WorkerConfig) []worker.Option {
	opts := []worker.Option{worker.WithTimeout(cfg.Timeout)}
	if cfg.ErrorPause > 0 {
		opts = append(opts, worker.WithErrorPause(cfg.ErrorPause))
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, worker.WithRateLimit(rate.Limit(cfg.RateLimit), burst))
	}
	return opts
}
