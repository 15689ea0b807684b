package app

import (
	"context"
	"fmt"
	"log/slog"

	"jobpool/internal/adapter/store/memory"
	pgstore "jobpool/internal/adapter/store/postgres"
	redisstore "jobpool/internal/adapter/store/redis"
	sqlitestore "jobpool/internal/adapter/store/sqlite"
	"jobpool/internal/config"
	"jobpool/internal/jobs"
	"jobpool/internal/platform/pg"
	platformredis "jobpool/internal/platform/redis"
	platformsqlite "jobpool/internal/platform/sqlite"
)

// backend is an opened timestamp store with its lifecycle hooks.
type backend struct {
	store  jobs.TimestampStore
	health func(ctx context.Context) error
	close  func() error
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (backend, error) {
	sc := cfg.Store
	log = log.With(slog.String("store", sc.Driver))

	switch sc.Driver {
	case "memory":
		return backend{store: memory.New()}, nil

	case "sqlite":
		db, err := platformsqlite.NewDB(ctx, sc.SQLitePath)
		if err != nil {
			return backend{}, fmt.Errorf("open sqlite %s: %w", sc.SQLitePath, err)
		}
		if err := sqlitestore.Migrate(db); err != nil {
			_ = db.Close()
			return backend{}, err
		}
		log.Debug("store ready", slog.String("path", sc.SQLitePath))
		return backend{store: sqlitestore.New(db), health: db.PingContext, close: db.Close}, nil

	case "postgres":
		dsn, err := pg.WithDefaultParams(sc.PostgresDSN, map[string]string{"application_name": "jobpool"})
		if err != nil {
			return backend{}, err
		}
		health := pg.DefaultHealthCheckOptions()
		health.Logger = log
		pool, err := pg.Connect(ctx, dsn, pg.DefaultPoolOptions(), health)
		if err != nil {
			return backend{}, err
		}
		info, err := pgstore.Migrate(dsn)
		if err != nil {
			pool.Close()
			return backend{}, err
		}
		log.Debug("store ready", slog.Bool("migrated", info.Applied), slog.Uint64("version", uint64(info.FinalVersion)))
		return backend{
			store:  pgstore.New(pool),
			health: func(ctx context.Context) error { return pg.HealthCheck(ctx, pool) },
			close:  func() error { pool.Close(); return nil },
		}, nil

	case "redis":
		opts := platformredis.DefaultOptions(sc.RedisAddr)
		opts.Password = sc.RedisPassword
		opts.DB = sc.RedisDB
		opts.Logger = log
		client, err := platformredis.New(ctx, opts)
		if err != nil {
			return backend{}, err
		}
		s := redisstore.New(client)
		return backend{store: s, health: s.Ping, close: client.Close}, nil
	}
	return backend{}, fmt.Errorf("unknown store driver %q", sc.Driver)
}
