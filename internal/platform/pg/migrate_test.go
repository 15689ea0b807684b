package pg

import (
	"os"
	"testing"

	"jobpool/migrations"
)

// Тесты с реальной БД запускаются только при заданном TEST_POSTGRES_DSN.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN is not set")
	}
	return dsn
}

func TestApplyMigrationsFromFS_MissingDir(t *testing.T) {
	t.Parallel()

	_, err := ApplyMigrationsFromFS("postgres://localhost/jobs", migrations.FS, "nope")
	if err == nil {
		t.Fatal("expected error for missing migrations dir")
	}
}

func TestApplyMigrationsFromFS_Idempotent(t *testing.T) {
	dsn := testDSN(t)

	if _, err := ApplyMigrationsFromFS(dsn, migrations.FS, migrations.PostgresDir); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	info, err := ApplyMigrationsFromFS(dsn, migrations.FS, migrations.PostgresDir)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if info.Applied {
		t.Error("expected no migrations applied on second run")
	}
	if info.FinalVersion < 1 {
		t.Errorf("expected version >= 1, got %d", info.FinalVersion)
	}

	version, dirty, err := GetMigrationVersionFromFS(dsn, migrations.FS, migrations.PostgresDir)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if dirty || version != info.FinalVersion {
		t.Errorf("unexpected version %d dirty=%v", version, dirty)
	}
}
