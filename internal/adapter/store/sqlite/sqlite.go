// Package sqlite stores job timestamps in the job_timestamps table of a
// SQLite database opened with internal/platform/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jobpool/internal/jobs"
	"jobpool/internal/shared"
	platformsqlite "jobpool/internal/platform/sqlite"
	"jobpool/migrations"
)

var _ jobs.GateStore = (*Store)(nil)

const (
	qHas    = `SELECT 1 FROM job_timestamps WHERE key = ?`
	qGet    = `SELECT executed_at FROM job_timestamps WHERE key = ?`
	qDelete = `DELETE FROM job_timestamps WHERE key = ?`
	qPut    = `INSERT INTO job_timestamps (key, executed_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET executed_at = excluded.executed_at`
	qMark = `INSERT INTO job_timestamps (key, executed_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET executed_at = excluded.executed_at
		WHERE job_timestamps.executed_at <= ?`
)

// Store is a jobs.GateStore backed by SQLite.
type Store struct {
	db *sql.DB
}

// New wraps db. The job_timestamps table must exist, see Migrate.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded SQLite migrations to db.
func Migrate(db *sql.DB) error {
	if err := platformsqlite.ApplyMigrations(db, migrations.FS, migrations.SQLiteDir); err != nil {
		return wrap("migrate", "", err)
	}
	return nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, qHas, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("has", key, err)
	}
	return true, nil
}

func (s *Store) PutForever(ctx context.Context, key string, t time.Time) error {
	if _, err := s.db.ExecContext(ctx, qPut, key, t.Unix()); err != nil {
		return wrap("put", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (time.Time, bool, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, qGet, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrap("get", key, err)
	}
	return time.Unix(v, 0), true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, qDelete, key); err != nil {
		return wrap("delete", key, err)
	}
	return nil
}

// MarkIfElapsed is a single conditional UPSERT: the row is written only when
// it is new or its value is at most now-gap.
func (s *Store) MarkIfElapsed(ctx context.Context, key string, now time.Time, gap time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, qMark, key, now.Unix(), now.Unix()-int64(gap/time.Second))
	if err != nil {
		return false, wrap("mark", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("mark", key, err)
	}
	return n == 1, nil
}

func wrap(op, key string, err error) error {
	return shared.MarkKind(fmt.Errorf("sqlite %s %q: %w", op, key, err), shared.KindDependencyFailure)
}
