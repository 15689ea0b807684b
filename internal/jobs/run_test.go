package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpool/internal/adapter/store/memory"
	"jobpool/internal/jobs"
	"jobpool/internal/shared"
)

// faultyStore fails selected operations for selected keys.
type faultyStore struct {
	*memory.Store
	failGet map[string]error
	failPut map[string]error
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: memory.New(), failGet: map[string]error{}, failPut: map[string]error{}}
}

func (f *faultyStore) Get(ctx context.Context, key string) (time.Time, bool, error) {
	if err := f.failGet[key]; err != nil {
		return time.Time{}, false, err
	}
	return f.Store.Get(ctx, key)
}

func (f *faultyStore) PutForever(ctx context.Context, key string, t time.Time) error {
	if err := f.failPut[key]; err != nil {
		return err
	}
	return f.Store.PutForever(ctx, key, t)
}

func TestRun_PoolCoolDownBlocksSecondCall(t *testing.T) {
	ctx := context.Background()
	r, store, clock := newRegistry(t)
	calls := 0
	require.NoError(t, r.Register(counting("a", 1, &calls)))

	first, err := r.Run(ctx)
	require.NoError(t, err)
	assert.False(t, first.CoolingDown)
	assert.Equal(t, 1, first.Executed)

	clock.Advance(59 * time.Second)
	before := store.Len()
	poolBefore, _, err := r.LastRunAt(ctx)
	require.NoError(t, err)

	second, err := r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, second.CoolingDown)
	assert.Equal(t, time.Second, second.Remaining)
	assert.Equal(t, 0, second.Executed)
	assert.Empty(t, second.Outcomes)
	assert.Equal(t, 1, calls)

	poolAfter, _, err := r.LastRunAt(ctx)
	require.NoError(t, err)
	assert.Equal(t, poolBefore, poolAfter, "a blocked cycle writes nothing")
	assert.Equal(t, before, store.Len())
}

func TestRun_JobIntervalBoundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		runs    bool
	}{
		{"one second early", 5*time.Minute - time.Second, false},
		{"exactly on boundary", 5 * time.Minute, true},
		{"after boundary", 5*time.Minute + time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			r, _, clock := newRegistry(t)
			calls := 0
			require.NoError(t, r.Register(counting("b", 5, &calls)))

			_, err := r.Run(ctx)
			require.NoError(t, err)
			clock.Advance(tt.elapsed)

			res, err := r.Run(ctx)
			require.NoError(t, err)
			require.False(t, res.CoolingDown)
			require.Len(t, res.Outcomes, 1)
			if tt.runs {
				assert.Equal(t, jobs.StatusExecuted, res.Outcomes[0].Status)
				assert.Equal(t, 2, calls)
			} else {
				assert.Equal(t, jobs.StatusCoolingDown, res.Outcomes[0].Status)
				assert.Equal(t, 1, calls)
			}
		})
	}
}

func TestRun_Scenario(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newRegistry(t)
	var aCalls, bCalls int
	require.NoError(t, r.SetPoolCoolDown(1))
	require.NoError(t, r.Register(counting("A", 1, &aCalls)))
	require.NoError(t, r.Register(counting("B", 5, &bCalls)))

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Executed)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, "Done. Jobs executed: 2/2", res.String())

	clock.Advance(30 * time.Second)
	res, err = r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.CoolingDown)
	assert.Equal(t, 0, res.Executed)
	assert.Equal(t, "Job executor needs to cool down for 30 seconds! No jobs executed.", res.String())

	clock.Advance(31 * time.Second)
	res, err = r.Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.CoolingDown)
	assert.Equal(t, 1, res.Executed)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, jobs.StatusExecuted, res.Outcomes[0].Status)
	assert.Equal(t, jobs.StatusCoolingDown, res.Outcomes[1].Status)

	assert.Equal(t, 2, aCalls)
	assert.Equal(t, 1, bCalls)
}

func TestRun_EmptyPoolStillMarksPool(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newRegistry(t)

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)

	last, ok, err := r.LastRunAt(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, clock.Now().Unix(), last.Unix())
}

func TestRun_InactiveJobKeepsTimestamp(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newRegistry(t)
	calls := 0
	job := counting("a", 10, &calls)
	require.NoError(t, r.Register(job))

	_, err := r.Run(ctx)
	require.NoError(t, err)
	firstRun, _, err := r.JobLastRunAt(ctx, "a")
	require.NoError(t, err)

	job.SetActive(false)
	clock.Advance(11 * time.Minute)
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPaused, res.Outcomes[0].Status)
	assert.Equal(t, 1, calls)

	stored, _, err := r.JobLastRunAt(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, firstRun, stored, "paused job keeps its last real execution")

	job.SetActive(true)
	clock.Advance(time.Minute)
	res, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusExecuted, res.Outcomes[0].Status)
	assert.Equal(t, 2, calls)
}

func TestRun_InactiveJobStillCoolingDown(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newRegistry(t)
	job := jobs.NewFunc("a", 10, nil)
	require.NoError(t, r.Register(job))

	_, err := r.Run(ctx)
	require.NoError(t, err)
	job.SetActive(false)
	clock.Advance(2 * time.Minute)

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCoolingDown, res.Outcomes[0].Status, "interval is checked before the active flag")
}

func TestRun_PassesLastRunAt(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newRegistry(t)
	var seen []time.Time
	require.NoError(t, r.Register(jobs.NewFunc("a", 1, func(_ context.Context, last time.Time) error {
		seen = append(seen, last)
		return nil
	})))

	start := clock.Now()
	_, err := r.Run(ctx)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = r.Run(ctx)
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.True(t, seen[0].IsZero())
	assert.Equal(t, start.Unix(), seen[1].Unix())
}

func TestRun_TimestampWrittenAfterJobFinishes(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newRegistry(t)
	start := clock.Now()
	require.NoError(t, r.Register(jobs.NewFunc("slow", 1, func(context.Context, time.Time) error {
		clock.Advance(45 * time.Second)
		return nil
	})))

	_, err := r.Run(ctx)
	require.NoError(t, err)

	poolAt, _, err := r.LastRunAt(ctx)
	require.NoError(t, err)
	jobAt, _, err := r.JobLastRunAt(ctx, "slow")
	require.NoError(t, err)
	assert.Equal(t, start.Unix(), poolAt.Unix())
	assert.Equal(t, start.Add(45*time.Second).Unix(), jobAt.Unix())
}

func TestRun_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newRegistry(t)
	boom := errors.New("boom")
	var okCalls, failCalls int

	require.NoError(t, r.Register(jobs.NewFunc("fails", 1, func(context.Context, time.Time) error {
		failCalls++
		return boom
	})))
	require.NoError(t, r.Register(jobs.NewFunc("panics", 1, func(context.Context, time.Time) error {
		panic("kaboom")
	})))
	require.NoError(t, r.RegisterLazy("broken", jobs.Factory(func() (jobs.Job, error) {
		return nil, errors.New("cannot build")
	})))
	require.NoError(t, r.Register(counting("ok", 1, &okCalls)))

	res, err := r.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, jobs.ErrJobFailed)
	assert.ErrorIs(t, err, jobs.ErrMaterialization)
	assert.True(t, shared.IsInternal(err))

	assert.Equal(t, 1, res.Executed)
	assert.Equal(t, 4, res.Total)
	require.Len(t, res.Outcomes, 4)
	assert.Equal(t, jobs.StatusFailed, res.Outcomes[0].Status)
	assert.Equal(t, jobs.StatusFailed, res.Outcomes[1].Status)
	assert.Contains(t, res.Outcomes[1].Err.Error(), "kaboom")
	assert.Equal(t, jobs.StatusFailed, res.Outcomes[2].Status)
	assert.Equal(t, jobs.StatusExecuted, res.Outcomes[3].Status)
	assert.Len(t, res.Failed(), 3)
	assert.Equal(t, 1, okCalls)

	_, ok, err := r.JobLastRunAt(ctx, "fails")
	require.NoError(t, err)
	assert.False(t, ok, "failed job timestamp is withheld")

	clock.Advance(time.Minute)
	_, _ = r.Run(ctx)
	assert.Equal(t, 2, failCalls, "failed job is retried on the next cycle")
}

func TestRun_StoreFailures(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	clock := newFakeClock()
	r := jobs.New(store, jobs.WithClock(clock.Now))
	var readCalls, writeCalls, okCalls int
	require.NoError(t, r.Register(counting("unreadable", 1, &readCalls)))
	require.NoError(t, r.Register(counting("unwritable", 1, &writeCalls)))
	require.NoError(t, r.Register(counting("ok", 1, &okCalls)))

	down := errors.New("store down")
	store.failGet["jobs.unreadable"] = down
	store.failPut["jobs.unwritable"] = down

	res, err := r.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, jobs.ErrStore)
	assert.ErrorIs(t, err, down)

	assert.Equal(t, jobs.StatusFailed, res.Outcomes[0].Status)
	assert.Equal(t, 0, readCalls)
	assert.Equal(t, jobs.StatusExecuted, res.Outcomes[1].Status, "write failure still counts as executed")
	assert.Error(t, res.Outcomes[1].Err)
	assert.Equal(t, 1, writeCalls)
	assert.Equal(t, 2, res.Executed)
	assert.Equal(t, 1, okCalls)
}

func TestRun_PoolGateStoreFailureAborts(t *testing.T) {
	store := newFaultyStore()
	down := errors.New("store down")
	store.failGet["jobs."] = down
	r := jobs.New(store)
	calls := 0
	require.NoError(t, r.Register(counting("a", 1, &calls)))

	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, down)
	assert.True(t, shared.IsDependencyFailure(err))
	assert.Equal(t, 0, calls)
}

func TestRun_AtomicGate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := newFakeClock()
	a := jobs.New(store, jobs.WithClock(clock.Now))
	b := jobs.New(store, jobs.WithClock(clock.Now))
	require.NoError(t, a.EnableAtomicGate())
	require.NoError(t, b.EnableAtomicGate())

	calls := 0
	require.NoError(t, a.Register(counting("x", 1, &calls)))
	require.NoError(t, b.Register(counting("x", 1, &calls)))

	resA, err := a.Run(ctx)
	require.NoError(t, err)
	resB, err := b.Run(ctx)
	require.NoError(t, err)

	assert.False(t, resA.CoolingDown)
	assert.True(t, resB.CoolingDown)
	assert.Equal(t, time.Minute, resB.Remaining)
	assert.Equal(t, 1, calls)

	clock.Advance(time.Minute)
	resB, err = b.Run(ctx)
	require.NoError(t, err)
	assert.False(t, resB.CoolingDown)
	assert.Equal(t, 2, calls)
}

func TestRun_Hooks(t *testing.T) {
	ctx := context.Background()
	var skipped []time.Duration
	var started []string
	var finished []jobs.Status
	var results []jobs.Result

	hooks := jobs.Hooks{
		OnRunSkipped: func(d time.Duration) { skipped = append(skipped, d) },
		OnJobStart:   func(name string) { started = append(started, name) },
		OnJobFinish:  func(_ string, s jobs.Status, _ time.Duration, _ error) { finished = append(finished, s) },
		OnRunFinish:  func(res jobs.Result) { results = append(results, res) },
	}

	r, _, _ := newRegistry(t, jobs.WithHooks(hooks))
	paused := jobs.NewFunc("paused", 1, nil)
	paused.SetActive(false)
	require.NoError(t, r.Register(jobs.NewFunc("a", 1, nil)))
	require.NoError(t, r.Register(paused))

	_, err := r.Run(ctx)
	require.NoError(t, err)
	_, err = r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, started)
	assert.Equal(t, []jobs.Status{jobs.StatusExecuted, jobs.StatusPaused}, finished)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Executed)
	assert.Equal(t, []time.Duration{time.Minute}, skipped)
}

func TestRun_ContextCanceledStopsCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, _, _ := newRegistry(t)
	second := 0
	require.NoError(t, r.Register(jobs.NewFunc("first", 1, func(context.Context, time.Time) error {
		cancel()
		return nil
	})))
	require.NoError(t, r.Register(counting("second", 1, &second)))

	res, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Executed)
	require.Len(t, res.Outcomes, 1)
	assert.NoError(t, res.Outcomes[0].Err, "a finished job is recorded despite the cancel")
	assert.Equal(t, 0, second)

	last, ok, err := r.JobLastRunAt(context.Background(), "first")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, res.StartedAt.Unix(), last.Unix())
}

func TestRun_CanceledJobKeepsItsInterval(t *testing.T) {
	r, _, clock := newRegistry(t)
	runs := 0
	require.NoError(t, r.Register(jobs.NewFunc("mail", 60, func(context.Context, time.Time) error {
		runs++
		return nil
	})))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Register(jobs.NewFunc("stopper", 60, func(context.Context, time.Time) error {
		cancel()
		return nil
	})))

	_, err := r.Run(ctx)
	require.NoError(t, err, "every entry was evaluated before the cancel")
	assert.Equal(t, 1, runs)

	clock.Advance(61 * time.Second)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.CoolingDown)
	assert.Zero(t, res.Executed)
	assert.Equal(t, 1, runs, "mail is still inside its 60 minute interval")
}

func TestRemainingCoolDown(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newRegistry(t)
	require.NoError(t, r.SetPoolCoolDown(2))

	remaining, err := r.RemainingCoolDown(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining, "never ran")
	_, ok, err := r.LastRunAt(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.Run(ctx)
	require.NoError(t, err)

	prev := 2 * time.Minute
	for _, step := range []time.Duration{0, 10 * time.Second, 50 * time.Second, 59 * time.Second, time.Second, time.Minute} {
		clock.Advance(step)
		remaining, err := r.RemainingCoolDown(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, remaining, prev)
		assert.GreaterOrEqual(t, remaining, time.Duration(0))
		prev = remaining
	}
	assert.Zero(t, prev)

	clock.Advance(-time.Minute - time.Second)
	remaining, err = r.RemainingCoolDown(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Second, remaining)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "executed", jobs.StatusExecuted.String())
	assert.Equal(t, "cooling_down", jobs.StatusCoolingDown.String())
	assert.Equal(t, "paused", jobs.StatusPaused.String())
	assert.Equal(t, "failed", jobs.StatusFailed.String())
	assert.Equal(t, "Status(9)", jobs.Status(9).String())
}
