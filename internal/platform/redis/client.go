// Package redis builds go-redis clients for the timestamp store.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"jobpool/pkg/retry"
)

// Options configures the client.
type Options struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int

	// ConnectRetries is how many times New pings the server before giving up.
	ConnectRetries int
	Logger         *slog.Logger
}

// DefaultOptions returns options for addr with conservative timeouts.
func DefaultOptions(addr string) Options {
	return Options{
		Addr:           addr,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		PoolSize:       4,
		ConnectRetries: 5,
	}
}

// New creates a client and waits until the server answers PING.
// The caller owns the client and must Close it.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis: addr is empty")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
	})

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = max(opts.ConnectRetries, 1)
	cfg.InitialDelay = 200 * time.Millisecond
	cfg.MaxDelay = 5 * time.Second
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		log.Warn("redis not ready", slog.String("addr", opts.Addr), slog.Int("attempt", attempt),
			slog.Duration("next", next), slog.Any("err", err))
	}

	err := retry.DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, func(error) bool { return ctx.Err() == nil })
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}
