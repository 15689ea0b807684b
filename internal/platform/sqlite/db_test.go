package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDBOptions(t *testing.T) {
	opts := DefaultDBOptions()

	assert.Equal(t, time.Hour, opts.ConnMaxLifetime)
	assert.Equal(t, 4, opts.MaxOpenConns)
	assert.Equal(t, 1, opts.MaxIdleConns)
	assert.Equal(t, 5*time.Second, opts.PingTimeout)
	assert.True(t, opts.WALMode)
	assert.Equal(t, 5*time.Second, opts.BusyTimeout)
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		dbPath   string
		opts     DBOptions
		expected string
	}{
		{
			name:     "default options",
			dbPath:   "/tmp/test.db",
			opts:     DefaultDBOptions(),
			expected: "/tmp/test.db?_pragma=busy_timeout(5000)",
		},
		{
			name:     "without busy timeout",
			dbPath:   ":memory:",
			opts:     DBOptions{},
			expected: ":memory:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildDSN(tt.dbPath, tt.opts))
		})
	}
}

func TestNewDB_CreatesDirectory(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "jobpool.db")

	db, err := NewDB(ctx, dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(dbPath)
	require.NoError(t, err, "файл БД должен быть создан")

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestNewInMemoryDB(t *testing.T) {
	ctx := context.Background()
	db, err := NewInMemoryDB(ctx)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)

	// Одно соединение - таблица видна во всех запросах
	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestNewDB_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDB(ctx, filepath.Join(t.TempDir(), "x.db"))
	assert.Error(t, err)
}
