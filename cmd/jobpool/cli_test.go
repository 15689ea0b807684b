package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpool/internal/app"
	"jobpool/internal/config"
	"jobpool/internal/jobs"
)

// factory opens a fresh App on the same sqlite file for every command, the
// way separate CLI invocations would.
func factory(t *testing.T, extra ...jobs.Job) appFactory {
	t.Helper()
	var cfg config.Config
	cfg.Env = "dev"
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "jobs.db")
	cfg.Jobs.CachePrefix = "jobs."
	cfg.Jobs.PoolCoolDown = 1
	cfg.Jobs.Schedule = "@every 1m"
	cfg.Jobs.HeartbeatInterval = 1
	cfg.Jobs.WebhookInterval = 5

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return func(ctx context.Context) (*app.App, error) {
		a, err := app.NewWithConfig(ctx, cfg, quiet)
		if err != nil {
			return nil, err
		}
		for _, j := range extra {
			if err := a.Registry().Register(j); err != nil {
				return nil, err
			}
		}
		return a, nil
	}
}

func execute(t *testing.T, f appFactory, args ...string) (string, error) {
	t.Helper()
	root := rootCmd(f)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if err != nil {
		return 1
	}
	return 0
}

func TestRun_ThenCoolingDown(t *testing.T) {
	f := factory(t)

	out, err := execute(t, f, "run", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "Done. Jobs executed: 1/1")
	assert.Contains(t, out, "heartbeat: executed")

	out, err = execute(t, f, "run")
	assert.Equal(t, exitCoolingDown, exitCode(err))
	assert.Contains(t, out, "Job executor needs to cool down for")
	assert.Contains(t, out, "No jobs executed.")
}

func TestRun_JobFailure(t *testing.T) {
	f := factory(t, jobs.NewFunc("flaky", 1, func(context.Context, time.Time) error {
		return errors.New("upstream timeout")
	}))

	out, err := execute(t, f, "run")
	assert.Equal(t, exitFailed, exitCode(err))
	assert.Contains(t, out, "Done. Jobs executed: 1/2")
	assert.Contains(t, out, "flaky: failed")
	assert.Contains(t, out, "upstream timeout")
}

func TestStatusListForgetReset(t *testing.T) {
	f := factory(t)

	out, err := execute(t, f, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "last cycle:         never")

	_, err = execute(t, f, "run")
	require.NoError(t, err)

	out, err = execute(t, f, "status")
	require.NoError(t, err)
	assert.NotContains(t, out, "last cycle:         never")
	assert.Contains(t, out, "heartbeat")

	out, err = execute(t, f, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "heartbeat")
	assert.Contains(t, out, "1m")

	out, err = execute(t, f, "forget", "heartbeat")
	require.NoError(t, err)
	assert.Contains(t, out, "will run on the next cycle")

	out, err = execute(t, f, "forget", "heartbeat")
	require.NoError(t, err)
	assert.Contains(t, out, "has not run yet")

	_, err = execute(t, f, "forget", "nope")
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	out, err = execute(t, f, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "timestamps cleared")

	out, err = execute(t, f, "run")
	require.NoError(t, err, "reset reopens the pool gate")
	assert.Contains(t, out, "Done. Jobs executed: 1/1")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, factory(t), "version")
	require.NoError(t, err)
	assert.Equal(t, "jobpool "+jobs.Version+"\n", out)
}

func TestArgs(t *testing.T) {
	_, err := execute(t, factory(t), "forget")
	assert.Error(t, err)
}
