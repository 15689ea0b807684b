package jobs

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// Job is a named recurring unit of work.
//
// Interval is the minimum spacing between two executions of this job, in
// minutes. If it is shorter than the pool cooldown, the pool cooldown wins.
// Run receives the time of the previous successful execution, or the zero
// time if the job has never run.
type Job interface {
	Name() string
	Active() bool
	Interval() int
	Run(ctx context.Context, lastRunAt time.Time) error
}

// Base carries the name, active flag and interval of a job. Embed it in a
// concrete job type and implement Run.
type Base struct {
	name     string
	interval int
	paused   bool
}

// NewBase returns an active Base.
func NewBase(name string, interval int) Base {
	return Base{name: name, interval: interval}
}

// Name returns the unique job name.
func (b *Base) Name() string { return b.name }

// Active reports whether the job is executed by Run.
func (b *Base) Active() bool { return !b.paused }

// Interval returns the job cooldown in minutes.
func (b *Base) Interval() int { return b.interval }

// SetActive pauses (false) or resumes (true) the job. It must not race with
// a running cycle.
func (b *Base) SetActive(active bool) { b.paused = !active }

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	Base
	fn func(ctx context.Context, lastRunAt time.Time) error
}

// NewFunc creates a job that calls fn.
func NewFunc(name string, interval int, fn func(ctx context.Context, lastRunAt time.Time) error) *FuncJob {
	return &FuncJob{Base: NewBase(name, interval), fn: fn}
}

// Run calls the wrapped function.
func (j *FuncJob) Run(ctx context.Context, lastRunAt time.Time) error {
	if j.fn == nil {
		return nil
	}
	return j.fn(ctx, lastRunAt)
}

// checkContract validates the parts of a job the registry depends on.
func checkContract(j Job) error {
	if j == nil {
		return fmt.Errorf("job is nil")
	}
	if v := reflect.ValueOf(j); v.Kind() == reflect.Pointer && v.IsNil() {
		return fmt.Errorf("job is a nil %T", j)
	}
	if j.Name() == "" {
		return fmt.Errorf("job name is empty")
	}
	if j.Interval() < 1 {
		return fmt.Errorf("job %q: interval %d must not be less than 1 minute", j.Name(), j.Interval())
	}
	return nil
}
