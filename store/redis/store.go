// Package redis implements the backlog stores on Redis.
//
// Queue operations run as Lua scripts so that every push, reservation,
// promotion and reschedule is atomic across all producers and workers.
// Failed jobs are Redis hashes indexed by a sorted set on failure time.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client, redisstore.WithPrefix("backlog:"))
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/queue"
)

// Compile-time interface checks.
var (
	_ queue.Store = (*Store)(nil)
	_ dlq.Store   = (*Store)(nil)
	_ cron.Locker = (*Store)(nil)
)

// DefaultPrefix is prepended to every key.
const DefaultPrefix = "backlog:"

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.keys = keys{prefix: prefix} }
}

// Store implements the queue, failure and lock stores on Redis.
type Store struct {
	client redis.UniversalClient
	keys   keys
	logger *slog.Logger
}

// New creates a Redis-backed store. The caller owns the client lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		keys:   keys{prefix: DefaultPrefix},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.UniversalClient { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op. The caller owns the Redis client.
func (s *Store) Close() error { return nil }
