package pg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobpool/pkg/retry"
)

// Pinger - то, что умеет проверять доступность БД (например, *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheckOptions содержит опции ожидания готовности БД.
type HealthCheckOptions struct {
	// MaxRetries - максимальное количество попыток
	MaxRetries int
	// InitialInterval - начальная задержка между попытками
	InitialInterval time.Duration
	// MaxInterval - максимальная задержка между попытками
	MaxInterval time.Duration
	// PingTimeout - таймаут для каждой попытки ping
	PingTimeout time.Duration
	// Logger - логгер для сообщений о повторах (по умолчанию slog.Default())
	Logger *slog.Logger
}

// DefaultHealthCheckOptions возвращает опции по умолчанию.
func DefaultHealthCheckOptions() HealthCheckOptions {
	return HealthCheckOptions{
		MaxRetries:      10,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		PingTimeout:     5 * time.Second,
	}
}

// WaitForDB ожидает доступности базы данных с экспоненциальной задержкой.
// Полезно при старте рядом с контейнером PostgreSQL, который еще поднимается.
func WaitForDB(ctx context.Context, db Pinger, opts HealthCheckOptions) error {
	if db == nil {
		return fmt.Errorf("pool is nil")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 5 * time.Second
	}

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = opts.MaxRetries
	cfg.InitialDelay = opts.InitialInterval
	cfg.MaxDelay = opts.MaxInterval
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		log.Warn("database not ready", slog.Int("attempt", attempt), slog.Duration("next", next), slog.Any("err", err))
	}

	// Любая ошибка ping считается временной: БД может еще запускаться
	err := retry.DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
		defer cancel()
		return db.Ping(pingCtx)
	}, func(error) bool { return ctx.Err() == nil })
	if err != nil {
		return fmt.Errorf("database not available: %w", err)
	}
	return nil
}

// HealthCheck выполняет разовую проверку доступности БД.
func HealthCheck(ctx context.Context, db Pinger) error {
	if db == nil {
		return fmt.Errorf("pool is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("pool ping failed: %w", err)
	}
	return nil
}
