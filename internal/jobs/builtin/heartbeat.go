// Package builtin contains jobs shipped with jobpool: a heartbeat that
// proves the pool is being driven, and a webhook notifier.
package builtin

import (
	"context"
	"log/slog"
	"time"

	"jobpool/internal/jobs"
)

// HeartbeatType is the type name under which Types registers the heartbeat.
const HeartbeatType = "builtin.heartbeat"

// Heartbeat logs one line per execution.
type Heartbeat struct {
	jobs.Base
	log *slog.Logger
}

// NewHeartbeat returns a heartbeat running every interval minutes.
func NewHeartbeat(interval int, log *slog.Logger) *Heartbeat {
	if log == nil {
		log = slog.Default()
	}
	return &Heartbeat{Base: jobs.NewBase("heartbeat", interval), log: log}
}

func (h *Heartbeat) Run(ctx context.Context, lastRunAt time.Time) error {
	attrs := []any{slog.Int("interval_min", h.Interval())}
	if !lastRunAt.IsZero() {
		attrs = append(attrs, slog.Time("last_run_at", lastRunAt), slog.Duration("since", time.Since(lastRunAt).Truncate(time.Second)))
	}
	h.log.InfoContext(ctx, "heartbeat", attrs...)
	return nil
}

// Types returns the constructor table for the built-in type names.
func Types(heartbeatInterval int, log *slog.Logger) map[string]jobs.Constructor {
	return map[string]jobs.Constructor{
		HeartbeatType: func() jobs.Job { return NewHeartbeat(heartbeatInterval, log) },
	}
}
