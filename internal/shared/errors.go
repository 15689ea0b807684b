package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors shared by the registry, the stores and the triggers.
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates that input or configuration validation failed
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates that the request conflicts with current state
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrInvariantViolated indicates that a contract or business rule was violated
	ErrInvariantViolated = errors.New("invariant violated")

	// ErrDependencyFailure indicates that an external dependency failed
	ErrDependencyFailure = errors.New("dependency failure")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindNotFound represents resource not found errors
	KindNotFound
	// KindValidation represents input validation errors
	KindValidation
	// KindConflict represents state conflict errors
	KindConflict
	// KindInternal represents internal errors
	KindInternal
	// KindTimeout represents timeout errors
	KindTimeout
	// KindInvariantViolated represents contract violations
	KindInvariantViolated
	// KindDependencyFailure represents external dependency failures
	KindDependencyFailure
	// KindCanceled represents context cancellation
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindConflict:
		return "Conflict"
	case KindInternal:
		return "Internal"
	case KindTimeout:
		return "Timeout"
	case KindInvariantViolated:
		return "InvariantViolated"
	case KindDependencyFailure:
		return "DependencyFailure"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// kindPriorities defines the order in which KindOf checks an error chain.
// Earlier entries win when an error carries several kinds (errors.Join).
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindTimeout, ErrTimeout},
	{KindNotFound, ErrNotFound},
	{KindValidation, ErrValidation},
	{KindConflict, ErrConflict},
	{KindDependencyFailure, ErrDependencyFailure},
	{KindInvariantViolated, ErrInvariantViolated},
	{KindInternal, ErrInternal},
}

// KindOf returns the Kind of the given error by checking against known sentinel errors.
// Returns KindUnknown for nil and for unrecognized errors.
//
// Example:
//
//	switch shared.KindOf(err) {
//	case shared.KindNotFound:
//	    return http.StatusNotFound
//	case shared.KindValidation:
//	    return http.StatusBadRequest
//	default:
//	    return http.StatusInternalServerError
//	}
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, p := range kindPriorities {
		switch p.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		default:
			if errors.Is(err, p.err) {
				return p.kind
			}
		}
	}
	return KindUnknown
}

// HasKind reports whether KindOf(err) equals kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// SentinelOf returns the sentinel error for the given Kind.
// For KindUnknown and KindCanceled, it returns nil.
func SentinelOf(kind Kind) error {
	for _, p := range kindPriorities {
		if p.kind == kind {
			return p.err
		}
	}
	return nil
}

// MarkKind wraps err with the sentinel of kind, keeping err in the chain so
// both KindOf(marked) == kind and errors.Is(marked, err) hold.
// Marking an error that already has the kind returns it unchanged.
//
//	if errors.Is(err, redis.Nil) {
//	    return shared.MarkKind(err, shared.KindNotFound)
//	}
//	return shared.MarkKind(err, shared.KindDependencyFailure)
func MarkKind(err error, kind Kind) error {
	sentinel := SentinelOf(kind)
	if err == nil {
		return sentinel
	}
	if sentinel == nil || KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context as "context: err".
// If err is nil, Wrap returns nil. An empty context returns err unchanged.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether the error indicates a canceled context.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports whether the error indicates a timeout.
// It checks for context.DeadlineExceeded, net.Error timeouts, and ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsNotFound reports whether the error indicates a resource not found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether the error indicates validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict reports whether the error indicates a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInternal reports whether the error indicates an internal error.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}

// IsInvariantViolated reports whether the error indicates a contract violation.
func IsInvariantViolated(err error) bool {
	return errors.Is(err, ErrInvariantViolated)
}

// IsDependencyFailure reports whether the error indicates an external dependency failure.
func IsDependencyFailure(err error) bool {
	return errors.Is(err, ErrDependencyFailure)
}
