package sqlite

import (
	"context"
	"database/sql"
	"io/fs"
	"testing"
)

// TestDB представляет тестовую SQLite базу данных с удобными хелперами.
type TestDB struct {
	DB *sql.DB
}

// NewTestDBInMemory создает in-memory SQLite БД для тестов.
// БД автоматически закрывается после завершения теста.
func NewTestDBInMemory(t testing.TB) *TestDB {
	t.Helper()

	db, err := NewInMemoryDB(context.Background())
	if err != nil {
		t.Fatalf("Failed to create in-memory test DB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &TestDB{DB: db}
}

// ApplyTestMigrations применяет миграции к тестовой БД.
func (tdb *TestDB) ApplyTestMigrations(t testing.TB, fsys fs.FS, dir string) {
	t.Helper()

	if err := ApplyMigrations(tdb.DB, fsys, dir); err != nil {
		t.Fatalf("Failed to apply test migrations: %v", err)
	}
}

// CountRows возвращает количество строк в таблице.
func (tdb *TestDB) CountRows(t testing.TB, tableName string) int {
	t.Helper()

	var count int
	row := tdb.DB.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+tableName)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to count rows in table %s: %v", tableName, err)
	}
	return count
}

// TableExists проверяет существование таблицы.
func (tdb *TestDB) TableExists(t testing.TB, tableName string) bool {
	t.Helper()

	var count int
	row := tdb.DB.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", tableName)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to check table existence: %v", err)
	}
	return count > 0
}
