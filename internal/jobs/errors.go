package jobs

import (
	"fmt"

	"jobpool/internal/shared"
)

// Sentinel errors. Each wraps an internal/shared kind so shared.KindOf
// classifies registry errors without knowing this package.
var (
	// ErrConfiguration reports invalid registry input: empty names or
	// prefixes, intervals or cooldowns below one minute, malformed builders.
	ErrConfiguration = fmt.Errorf("%w: jobs configuration", shared.ErrValidation)

	// ErrNotFound is returned by Get for an unregistered name.
	ErrNotFound = fmt.Errorf("jobs: %w", shared.ErrNotFound)

	// ErrMaterialization reports a lazy builder whose product is not a usable job.
	ErrMaterialization = fmt.Errorf("%w: job materialization", shared.ErrInvariantViolated)

	// ErrJobFailed reports a job whose Run returned an error or panicked.
	ErrJobFailed = fmt.Errorf("%w: job failed", shared.ErrInternal)

	// ErrStore reports a TimestampStore failure.
	ErrStore = fmt.Errorf("%w: timestamp store", shared.ErrDependencyFailure)
)

// Phases reported in JobError.Op.
const (
	OpMaterialize = "materialize"
	OpRead        = "read"
	OpExecute     = "execute"
	OpWrite       = "write"
)

// JobError is a failure of one job during a run cycle or a lookup.
type JobError struct {
	Name string
	Op   string
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %q: %s: %v", e.Name, e.Op, e.Err)
}

// Unwrap exposes both the phase sentinel and the underlying cause, so
// errors.Is matches ErrMaterialization as well as the original error.
func (e *JobError) Unwrap() []error {
	var sentinel error
	switch e.Op {
	case OpMaterialize:
		sentinel = ErrMaterialization
	case OpExecute:
		sentinel = ErrJobFailed
	case OpRead, OpWrite:
		sentinel = ErrStore
	}
	if sentinel == nil {
		return []error{e.Err}
	}
	return []error{sentinel, e.Err}
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func storeError(op, key string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", ErrStore, op, key, err)
}
