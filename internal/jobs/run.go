package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Status is the decision Run took for one entry.
type Status int

const (
	// StatusExecuted means the job ran and returned nil.
	StatusExecuted Status = iota
	// StatusCoolingDown means the job interval has not elapsed yet.
	StatusCoolingDown
	// StatusPaused means the job is inactive.
	StatusPaused
	// StatusFailed means the job could not be built, its timestamp could
	// not be read, or its Run failed.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusExecuted:
		return "executed"
	case StatusCoolingDown:
		return "cooling_down"
	case StatusPaused:
		return "paused"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome describes what happened to one entry during a cycle.
type Outcome struct {
	Name   string
	Status Status
	// LastRunAt is the previous successful run, zero if none was recorded.
	LastRunAt time.Time
	Duration  time.Duration
	// Err is set for StatusFailed, and for StatusExecuted when the new
	// timestamp could not be written.
	Err error
}

// Result is the summary of one Run call.
type Result struct {
	// CoolingDown is true when the pool gate blocked the cycle. No entry was
	// evaluated and nothing was written.
	CoolingDown bool
	Remaining   time.Duration
	StartedAt   time.Time
	Executed    int
	Total       int
	Outcomes    []Outcome
}

// Failed returns the outcomes carrying an error.
func (res Result) Failed() []Outcome {
	var out []Outcome
	for _, o := range res.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

func (res Result) String() string {
	if res.CoolingDown {
		return fmt.Sprintf("Job executor needs to cool down for %d seconds! No jobs executed.", int64(res.Remaining/time.Second))
	}
	return fmt.Sprintf("Done. Jobs executed: %d/%d", res.Executed, res.Total)
}

// writeTimeout bounds the timestamp write that follows a successful run.
const writeTimeout = 10 * time.Second

type slot struct {
	name  string
	entry *entry
}

// Run performs one cycle: it checks the pool gate, marks the pool
// timestamp, then evaluates every entry in insertion order and executes the
// active jobs whose interval has elapsed.
//
// A failing entry does not stop the cycle. The returned error joins one
// *JobError per failed entry; the Result is valid even when it is non-nil.
// A store failure at the pool gate aborts the cycle and is returned alone.
func (r *Registry) Run(ctx context.Context) (Result, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	now := r.clock()
	res := Result{StartedAt: now}

	r.mu.Lock()
	prefix, coolDown, gate, types := r.prefix, r.coolDown, r.atomicGate, r.types
	slots := make([]slot, 0, len(r.order))
	for _, name := range r.order {
		slots = append(slots, slot{name: name, entry: r.entries[name]})
	}
	r.mu.Unlock()
	res.Total = len(slots)

	passed, remaining, err := r.passGate(ctx, prefix, coolDown, gate, now)
	if err != nil {
		r.log.ErrorContext(ctx, "pool gate failed", slog.Any("err", err))
		return res, err
	}
	if !passed {
		res.CoolingDown = true
		res.Remaining = remaining
		r.log.InfoContext(ctx, "pool cooling down, no jobs executed",
			slog.Duration("remaining", remaining))
		if r.hooks.OnRunSkipped != nil {
			r.hooks.OnRunSkipped(remaining)
		}
		return res, nil
	}

	var errs []error
	for i, s := range slots {
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = append(errs, fmt.Errorf("cycle interrupted before %d of %d entries: %w", len(slots)-i, len(slots), ctxErr))
			break
		}

		out := r.runOne(ctx, prefix, types, s, now)
		res.Outcomes = append(res.Outcomes, out)
		if out.Status == StatusExecuted {
			res.Executed++
		}
		if out.Err != nil {
			errs = append(errs, out.Err)
		}
		if r.hooks.OnJobFinish != nil {
			r.hooks.OnJobFinish(out.Name, out.Status, out.Duration, out.Err)
		}
	}

	runErr := errors.Join(errs...)
	level := slog.LevelInfo
	if runErr != nil {
		level = slog.LevelWarn
	}
	r.log.Log(ctx, level, "job cycle finished",
		slog.Int("executed", res.Executed),
		slog.Int("total", res.Total),
		slog.Int("failed", len(errs)))

	if r.hooks.OnRunFinish != nil {
		r.hooks.OnRunFinish(res)
	}
	return res, runErr
}

// passGate checks the pool cooldown and, when it has elapsed, marks the
// pool timestamp with now.
func (r *Registry) passGate(ctx context.Context, prefix string, coolDown int, atomic bool, now time.Time) (bool, time.Duration, error) {
	if atomic {
		gs := r.store.(GateStore)
		ok, err := gs.MarkIfElapsed(ctx, prefix, now, time.Duration(coolDown)*time.Minute)
		if err != nil {
			return false, 0, storeError("mark", prefix, err)
		}
		if ok {
			return true, 0, nil
		}
		remaining, err := r.remaining(ctx, prefix, coolDown, now)
		if err != nil {
			return false, 0, err
		}
		// Another process marked the pool after our clock reading.
		if remaining <= 0 {
			remaining = time.Second
		}
		return false, remaining, nil
	}

	remaining, err := r.remaining(ctx, prefix, coolDown, now)
	if err != nil {
		return false, 0, err
	}
	if remaining > 0 {
		return false, remaining, nil
	}
	if err := r.store.PutForever(ctx, prefix, now); err != nil {
		return false, 0, storeError("put", prefix, err)
	}
	return true, 0, nil
}

func (r *Registry) runOne(ctx context.Context, prefix string, types map[string]Constructor, s slot, now time.Time) Outcome {
	out := Outcome{Name: s.name}
	log := r.log.With(slog.String("job", s.name))
	key := prefix + s.name

	job, err := s.entry.materialize(types)
	if err != nil {
		out.Status = StatusFailed
		out.Err = &JobError{Name: s.name, Op: OpMaterialize, Err: err}
		log.ErrorContext(ctx, "job materialization failed", slog.Any("err", err))
		return out
	}

	last, seen, err := r.store.Get(ctx, key)
	if err != nil {
		out.Status = StatusFailed
		out.Err = &JobError{Name: s.name, Op: OpRead, Err: err}
		log.ErrorContext(ctx, "read job timestamp failed", slog.Any("err", err))
		return out
	}
	if seen {
		out.LastRunAt = last
		if now.Unix()-last.Unix() < int64(job.Interval())*60 {
			out.Status = StatusCoolingDown
			log.DebugContext(ctx, "job cooling down", slog.Time("last_run_at", last))
			return out
		}
	}

	if !job.Active() {
		out.Status = StatusPaused
		log.DebugContext(ctx, "job paused")
		return out
	}

	if r.hooks.OnJobStart != nil {
		r.hooks.OnJobStart(s.name)
	}
	log.DebugContext(ctx, "job started")

	started := r.now()
	err = execute(ctx, job, out.LastRunAt)
	out.Duration = r.now().Sub(started)

	if err != nil {
		out.Status = StatusFailed
		out.Err = &JobError{Name: s.name, Op: OpExecute, Err: err}
		log.ErrorContext(ctx, "job failed", slog.Any("err", err), slog.Duration("duration", out.Duration))
		return out
	}

	out.Status = StatusExecuted
	finished := r.clock()
	// The job has run: its timestamp is written even if ctx was canceled
	// meanwhile, otherwise it would run again on the next cycle.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := r.store.PutForever(wctx, key, finished); err != nil {
		out.Err = &JobError{Name: s.name, Op: OpWrite, Err: err}
		log.ErrorContext(ctx, "write job timestamp failed", slog.Any("err", err))
		return out
	}
	log.DebugContext(ctx, "job executed", slog.Duration("duration", out.Duration))
	return out
}

func execute(ctx context.Context, job Job, last time.Time) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return job.Run(ctx, last)
}
