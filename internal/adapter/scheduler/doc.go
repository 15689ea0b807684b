// Package scheduler drives a job pool from a cron schedule.
//
// The pool decides by itself which jobs are due, so the scheduler only has
// to call Run often enough. A schedule shorter than the pool cooldown is
// harmless: the extra ticks end as "cooling down".
//
// Features:
//   - Cron expressions with optional seconds and descriptors via github.com/robfig/cron/v3
//   - Overlapping ticks are skipped (cron.SkipIfStillRunning)
//   - Per-cycle timeout
//   - Panic recovery
//   - Graceful shutdown with optional deadline (StopContext)
//   - Structured logging with slog integration
//
// Basic usage:
//
//	s, err := scheduler.New(ctx, registry, scheduler.Config{
//		Schedule:   "@every 1m",
//		Timeout:    5 * time.Minute,
//		RunOnStart: true,
//		Logger:     logger,
//	})
//	if err != nil {
//		return err
//	}
//	s.Start()
//	defer s.StopContext(shutdownCtx)
package scheduler
