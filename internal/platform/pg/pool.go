package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier объединяет методы выполнения запросов, общие для пула и транзакции.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Убедимся на этапе компиляции, что типы реализуют интерфейс
var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// PoolOptions содержит настройки для пула подключений PostgreSQL.
type PoolOptions struct {
	// MaxConns - максимальное количество соединений в пуле
	MaxConns int32
	// MinConns - минимальное количество соединений в пуле
	MinConns int32
	// HealthCheckPeriod - интервал проверки здоровья соединений
	HealthCheckPeriod time.Duration
	// MaxConnLifetime - максимальное время жизни соединения
	MaxConnLifetime time.Duration
	// MaxConnIdleTime - максимальное время простоя соединения
	MaxConnIdleTime time.Duration
	// PingTimeout - таймаут для проверки соединения при создании пула
	PingTimeout time.Duration
}

// DefaultPoolOptions возвращает настройки по умолчанию.
// Цикл задач выполняет несколько коротких запросов в минуту, большой пул не нужен.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:          4,
		MinConns:          0,
		HealthCheckPeriod: time.Minute,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   10 * time.Minute,
		PingTimeout:       5 * time.Second,
	}
}

// NewPool создает новый пул подключений к PostgreSQL с настройками по умолчанию.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return NewPoolWithOptions(ctx, dsn, DefaultPoolOptions())
}

// NewPoolWithOptions создает новый пул подключений к PostgreSQL с заданными параметрами.
func NewPoolWithOptions(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	applyPoolOptions(cfg, opts)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Проверяем соединение с БД с настраиваемым таймаутом
	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func applyPoolOptions(cfg *pgxpool.Config, opts PoolOptions) {
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MinConns = opts.MinConns
	if opts.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = opts.HealthCheckPeriod
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
}

// Connect создает пул без немедленного подключения и ждет готовности БД
// через WaitForDB. Подходит для старта рядом с еще не поднявшимся PostgreSQL.
func Connect(ctx context.Context, dsn string, opts PoolOptions, health HealthCheckOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	applyPoolOptions(cfg, opts)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := WaitForDB(ctx, pool, health); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
