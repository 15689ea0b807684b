// Package retry runs an operation until it succeeds, with exponential
// backoff and jitter between attempts.
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return pool.Ping(ctx)
//	})
//
// Errors wrapped with Permanent stop the loop immediately. Now and After
// are injectable so tests never sleep.
package retry
