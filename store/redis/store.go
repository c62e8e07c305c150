package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/unmark/dlq"
	"github.com/xraph/unmark/job"
)

var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store keeps jobs and dead letters in Redis. It does not own the client:
// Close leaves it open.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets where unreadable hashes are reported.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// New wraps client, which may be a single node, a ring or a cluster
// client.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate has nothing to do; keys are created on first write.
func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) Close() error { return nil }
