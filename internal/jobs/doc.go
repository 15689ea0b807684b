// Package jobs implements a pool of named recurring jobs gated by
// persisted "last executed at" timestamps.
//
// The registry does not schedule anything by itself. Some external caller
// (a cron trigger, an HTTP endpoint, a CLI invocation) calls Run
// periodically; Run then decides, using only the timestamps kept in a
// TimestampStore, whether the pool as a whole may run and which jobs are
// due.
//
// Two cooldowns apply:
//
//	pool cooldown  minimum spacing between two cycles, key "{prefix}"
//	job interval   minimum spacing between two runs of one job, key "{prefix}{name}"
//
// Jobs may be registered eagerly (Register) or lazily through a Builder
// (RegisterLazy). A lazy entry is built the first time it is needed and the
// result is kept for the lifetime of the registry.
//
// Without EnableAtomicGate the pool gate is a plain read followed by a write,
// so two processes sharing a store may both pass it within one cooldown
// window. Execution is best-effort, not exactly-once.
package jobs

// Version of the jobs package.
const Version = "1.0.0"
