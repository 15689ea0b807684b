// Package storetest checks that a jobs.GateStore implementation behaves the
// way the registry expects. Each backend calls Run from its own tests.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpool/internal/jobs"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) jobs.GateStore

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("PutGetDelete", func(t *testing.T) { testPutGetDelete(t, newStore(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newStore(t)) })
	t.Run("KeysAreIndependent", func(t *testing.T) { testKeysAreIndependent(t, newStore(t)) })
	t.Run("MarkIfElapsed", func(t *testing.T) { testMarkIfElapsed(t, newStore(t)) })
	t.Run("MarkIfElapsedConcurrent", func(t *testing.T) { testMarkIfElapsedConcurrent(t, newStore(t)) })
}

func testPutGetDelete(t *testing.T, s jobs.GateStore) {
	ctx := context.Background()

	ok, err := s.Has(ctx, "jobs.a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Get(ctx, "jobs.a")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2024, 5, 1, 10, 0, 0, 999, time.UTC)
	require.NoError(t, s.PutForever(ctx, "jobs.a", at))

	ok, err = s.Has(ctx, "jobs.a")
	require.NoError(t, err)
	assert.True(t, ok)

	got, ok, err := s.Get(ctx, "jobs.a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at.Unix(), got.Unix())
	assert.Zero(t, got.Nanosecond())

	require.NoError(t, s.Delete(ctx, "jobs.a"))
	require.NoError(t, s.Delete(ctx, "jobs.a"))

	ok, err = s.Has(ctx, "jobs.a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testOverwrite(t *testing.T, s jobs.GateStore) {
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.PutForever(ctx, "jobs.", t0))
	require.NoError(t, s.PutForever(ctx, "jobs.", t0.Add(-time.Hour)))

	got, ok, err := s.Get(ctx, "jobs.")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0.Add(-time.Hour).Unix(), got.Unix(), "last write wins")
}

func testKeysAreIndependent(t *testing.T, s jobs.GateStore) {
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.PutForever(ctx, "jobs.", t0))
	require.NoError(t, s.PutForever(ctx, "jobs.a", t0.Add(time.Second)))
	require.NoError(t, s.Delete(ctx, "jobs.a"))

	got, ok, err := s.Get(ctx, "jobs.")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0.Unix(), got.Unix())
}

func testMarkIfElapsed(t *testing.T, s jobs.GateStore) {
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	steps := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"absent key", t0, true},
		{"within gap", t0.Add(59 * time.Second), false},
		{"exactly gap", t0.Add(60 * time.Second), true},
		{"within new gap", t0.Add(90 * time.Second), false},
		{"well past gap", t0.Add(10 * time.Minute), true},
	}
	for _, step := range steps {
		ok, err := s.MarkIfElapsed(ctx, "jobs.", step.now, time.Minute)
		require.NoError(t, err, step.name)
		assert.Equal(t, step.want, ok, step.name)
	}

	got, _, err := s.Get(ctx, "jobs.")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(10*time.Minute).Unix(), got.Unix())
}

func testMarkIfElapsedConcurrent(t *testing.T, s jobs.GateStore) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	var (
		wg     sync.WaitGroup
		passed atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkIfElapsed(ctx, "jobs.", now, time.Minute)
			if err == nil && ok {
				passed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), passed.Load(), "exactly one caller passes the gate")
}
