// Package shared contains common error types and utilities for error handling
// across the application without domain-specific logic.
//
// # Error Types and Classification
//
// The sentinel errors represent common failure conditions:
//
//   - ErrNotFound: resource not found
//   - ErrValidation: input or configuration validation failed
//   - ErrConflict: state conflict
//   - ErrInternal: internal error
//   - ErrTimeout: operation timed out
//   - ErrInvariantViolated: contract violation
//   - ErrDependencyFailure: external dependency (store, HTTP endpoint) failed
//
// Domain packages define their own sentinels on top of these with %w, so a
// single switch over KindOf works for every layer:
//
//	var ErrConfiguration = fmt.Errorf("%w: jobs configuration", shared.ErrValidation)
//
//	switch shared.KindOf(err) {
//	case shared.KindValidation:
//	    // misuse by the caller
//	case shared.KindDependencyFailure:
//	    // store is down
//	}
//
// # Kind Priority Table
//
// When multiple kinds are present (e.g. errors.Join), KindOf returns the highest priority kind:
//
//	Priority | Kind                  | Description
//	---------|-----------------------|--------------------
//	1        | KindCanceled          | Context cancellation (highest)
//	2        | KindTimeout           | Timeout/deadline errors
//	3        | KindNotFound          | Resource not found
//	4        | KindValidation        | Validation failures
//	5        | KindConflict          | State conflicts
//	6        | KindDependencyFailure | External dependency failures
//	7        | KindInvariantViolated | Contract violations
//	8        | KindInternal          | Internal errors (lowest)
//
// # Error Marking
//
// MarkKind classifies third-party errors while preserving them:
//
//	if err := rdb.Get(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
//	    return shared.MarkKind(err, shared.KindDependencyFailure)
//	}
//
// # Adapter Integration
//
// Map kinds to transport-specific codes in adapter layers, not here:
//
//	switch shared.KindOf(err) {
//	case shared.KindNotFound:
//	    return http.StatusNotFound
//	case shared.KindDependencyFailure:
//	    return http.StatusBadGateway
//	default:
//	    return http.StatusInternalServerError
//	}
package shared
