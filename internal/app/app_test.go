package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpool/internal/config"
	"jobpool/internal/jobs"
	"jobpool/internal/shared"
)

func testConfig() config.Config {
	var c config.Config
	c.Env = "dev"
	c.Store.Driver = "memory"
	c.Jobs.CachePrefix = "test."
	c.Jobs.PoolCoolDown = 1
	c.Jobs.Schedule = "@every 1s"
	c.Jobs.HeartbeatInterval = 1
	c.Jobs.WebhookInterval = 5
	return c
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := NewWithConfig(context.Background(), cfg, quiet())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewWithConfig_Stores(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"memory", func(*config.Config) {}},
		{"sqlite", func(c *config.Config) {
			c.Store.Driver = "sqlite"
			c.Store.SQLitePath = filepath.Join(t.TempDir(), "jobs.db")
		}},
		{"redis", func(c *config.Config) {
			c.Store.Driver = "redis"
			c.Store.RedisAddr = mr.Addr()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			cfg.Jobs.AtomicGate = true
			a := newApp(t, cfg)

			assert.Equal(t, "test.", a.Registry().CacheKeyPrefix())
			assert.Equal(t, []string{"heartbeat"}, a.Registry().Names())

			res, err := a.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, res.Executed)

			res, err = a.RunOnce(context.Background())
			require.NoError(t, err)
			assert.True(t, res.CoolingDown)
		})
	}
}

func TestNewWithConfig_SQLitePersists(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "jobs.db")

	a, err := NewWithConfig(context.Background(), cfg, quiet())
	require.NoError(t, err)
	_, err = a.RunOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b := newApp(t, cfg)
	res, err := b.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.CoolingDown, "pool timestamp survives a restart")
}

func TestNewWithConfig_Webhook(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig()
	cfg.Jobs.HeartbeatInterval = 0
	cfg.Jobs.WebhookURL = srv.URL
	a := newApp(t, cfg)

	assert.Equal(t, []string{"webhook"}, a.Registry().Names())
	res, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Executed)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestNewWithConfig_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = "nope"
	_, err := NewWithConfig(context.Background(), cfg, quiet())
	require.Error(t, err)
}

func TestNewWithConfig_BadPrefix(t *testing.T) {
	cfg := testConfig()
	cfg.Jobs.CachePrefix = ""
	_, err := NewWithConfig(context.Background(), cfg, quiet())
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestServe(t *testing.T) {
	cfg := testConfig()
	a := newApp(t, cfg)

	var calls int32
	require.NoError(t, a.Registry().Register(jobs.NewFunc("custom", 1, func(context.Context, time.Time) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_InvalidSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Jobs.Schedule = "every now and then"
	a := newApp(t, cfg)
	assert.True(t, shared.IsValidation(a.Serve(context.Background())))
}

func TestRunOnce_CycleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Jobs.HeartbeatInterval = 0
	cfg.Jobs.CycleTimeout = 50 * time.Millisecond
	a := newApp(t, cfg)
	require.NoError(t, a.Registry().Register(jobs.NewFunc("stuck", 1, func(ctx context.Context, _ time.Time) error {
		<-ctx.Done()
		return ctx.Err()
	})))

	start := time.Now()
	res, err := a.RunOnce(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, jobs.StatusFailed, res.Outcomes[0].Status)
}
