package jobs

import (
	"context"
	"time"
)

// TimestampStore persists "last executed at" timestamps. It is the only
// state of the registry that survives a process restart.
//
// Implementations store whole seconds and never expire values. Delete of a
// missing key is not an error.
type TimestampStore interface {
	Has(ctx context.Context, key string) (bool, error)
	PutForever(ctx context.Context, key string, t time.Time) error
	Get(ctx context.Context, key string) (time.Time, bool, error)
	Delete(ctx context.Context, key string) error
}

// GateStore is a TimestampStore that can mark the pool timestamp atomically.
//
// MarkIfElapsed writes now under key if the key is absent or holds a value
// not later than now-gap, and reports whether it wrote. Two processes racing
// on the same key within gap see exactly one true.
type GateStore interface {
	TimestampStore
	MarkIfElapsed(ctx context.Context, key string, now time.Time, gap time.Duration) (bool, error)
}
