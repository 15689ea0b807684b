// Package sqlite предоставляет инфраструктурные компоненты для работы с SQLite
// (драйвер modernc.org/sqlite, без cgo).
//
// Основные возможности:
// - Открытие БД с настройками пула и PRAGMA
// - Миграции golang-migrate из встроенной файловой системы (iofs)
// - Тестовые хелперы для in-memory БД
//
// # Быстрый старт
//
//	db, err := sqlite.NewDB(ctx, "data/jobpool.db")
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	if err := sqlite.ApplyMigrations(db, migrations.FS, migrations.SQLiteDir); err != nil {
//		return err
//	}
//
// # Тестирование
//
//	func TestSomething(t *testing.T) {
//		tdb := sqlite.NewTestDBInMemory(t)
//		tdb.ApplyTestMigrations(t, migrations.FS, migrations.SQLiteDir)
//	}
package sqlite
