package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// OpenOptions selects and configures the store backend.
type OpenOptions struct {
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	// Memory allows falling back to the in-memory store when DatabaseURL
	// is empty.
	Memory bool
}

// Open connects to PostgreSQL, applies migrations and wraps the store with
// the Redis read-through cache when RedisURL is set. The returned func
// releases every connection.
func Open(ctx context.Context, opts OpenOptions) (Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if opts.DatabaseURL == "" {
		if !opts.Memory {
			return nil, closeAll, fmt.Errorf("DATABASE_URL is required")
		}
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return NewMemoryStore(), closeAll, nil
	}

	if err := Migrate(opts.DatabaseURL); err != nil {
		return nil, closeAll, err
	}
	pool, err := pgxpool.New(ctx, opts.DatabaseURL)
	if err != nil {
		return nil, closeAll, fmt.Errorf("database connection: %w", err)
	}
	cleanup = append(cleanup, pool.Close)
	var st Store = NewPostgresStore(pool)
	slog.Info("connected to PostgreSQL")

	if opts.RedisURL != "" {
		opt, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = NewCachedStore(st, rdb, opts.CacheTTL)
		slog.Info("Redis cache enabled")
	}
	return st, closeAll, nil
}
