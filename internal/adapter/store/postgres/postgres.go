// Package postgres stores job timestamps in the job_timestamps table of a
// PostgreSQL database reached through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"jobpool/internal/jobs"
	"jobpool/internal/platform/pg"
	"jobpool/internal/shared"
	"jobpool/migrations"
)

var _ jobs.GateStore = (*Store)(nil)

const (
	qHas    = `SELECT EXISTS (SELECT 1 FROM job_timestamps WHERE key = $1)`
	qGet    = `SELECT executed_at FROM job_timestamps WHERE key = $1`
	qDelete = `DELETE FROM job_timestamps WHERE key = $1`
	qPut    = `INSERT INTO job_timestamps (key, executed_at) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET executed_at = EXCLUDED.executed_at`
	qMark = `INSERT INTO job_timestamps (key, executed_at) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET executed_at = EXCLUDED.executed_at
		WHERE job_timestamps.executed_at <= $3`
)

// Store is a jobs.GateStore backed by PostgreSQL.
type Store struct {
	q pg.Querier
}

// New wraps q, usually a *pgxpool.Pool.
func New(q pg.Querier) *Store {
	return &Store{q: q}
}

// Migrate applies the embedded PostgreSQL migrations using dsn.
func Migrate(dsn string) (pg.MigrationInfo, error) {
	info, err := pg.ApplyMigrationsFromFS(dsn, migrations.FS, migrations.PostgresDir)
	if err != nil {
		return info, wrap("migrate", "", err)
	}
	return info, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	var ok bool
	if err := s.q.QueryRow(ctx, qHas, key).Scan(&ok); err != nil {
		return false, wrap("has", key, err)
	}
	return ok, nil
}

func (s *Store) PutForever(ctx context.Context, key string, t time.Time) error {
	if _, err := s.q.Exec(ctx, qPut, key, t.Unix()); err != nil {
		return wrap("put", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (time.Time, bool, error) {
	var v int64
	err := s.q.QueryRow(ctx, qGet, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrap("get", key, err)
	}
	return time.Unix(v, 0), true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.q.Exec(ctx, qDelete, key); err != nil {
		return wrap("delete", key, err)
	}
	return nil
}

// MarkIfElapsed relies on the row lock taken by ON CONFLICT, so concurrent
// callers with the same now cannot both succeed.
func (s *Store) MarkIfElapsed(ctx context.Context, key string, now time.Time, gap time.Duration) (bool, error) {
	tag, err := s.q.Exec(ctx, qMark, key, now.Unix(), now.Unix()-int64(gap/time.Second))
	if err != nil {
		return false, wrap("mark", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func wrap(op, key string, err error) error {
	return shared.MarkKind(fmt.Errorf("postgres %s %q: %w", op, key, err), shared.KindDependencyFailure)
}
