package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	migrate "github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ApplyMigrations применяет миграции из fsys/dir к уже открытой БД.
// Повторный вызов безопасен: migrate.ErrNoChange не считается ошибкой.
//
// Работа идет через открытый *sql.DB, поэтому миграции применимы и к
// in-memory базе, где отдельное соединение увидело бы пустую БД.
func ApplyMigrations(db *sql.DB, fsys fs.FS, dir string) error {
	m, src, err := newMigrate(db, fsys, dir)
	if err != nil {
		return err
	}
	// m.Close() закрыл бы и переданный *sql.DB, поэтому закрываем только источник
	defer func() { _ = src.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrationVersion возвращает текущую версию примененных миграций.
// Если миграции еще не применялись, возвращает 0 без ошибки.
func MigrationVersion(db *sql.DB, fsys fs.FS, dir string) (uint, bool, error) {
	m, src, err := newMigrate(db, fsys, dir)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = src.Close() }()

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// ResetMigrations откатывает все миграции (опасная операция!).
func ResetMigrations(db *sql.DB, fsys fs.FS, dir string) error {
	m, src, err := newMigrate(db, fsys, dir)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to reset migrations: %w", err)
	}
	return nil
}

func newMigrate(db *sql.DB, fsys fs.FS, dir string) (*migrate.Migrate, interface{ Close() error }, error) {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open migrations source: %w", err)
	}
	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("failed to create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, src, nil
}
