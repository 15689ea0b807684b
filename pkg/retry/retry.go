package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"
)

// Config defines retry behaviour.
type Config struct {
	// MaxAttempts is the number of attempts including the first one.
	MaxAttempts int
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps a single delay.
	MaxDelay time.Duration
	// MaxElapsedTime caps the total time spent (0 = no limit).
	MaxElapsedTime time.Duration
	// Multiplier grows the delay after every attempt.
	Multiplier float64
	// Jitter spreads delays by up to +/-25%.
	Jitter bool
	// Rand is the jitter source (optional).
	Rand *rand.Rand
	// OnRetry is called before every wait.
	OnRetry func(attempt int, err error, nextDelay time.Duration)
	// Now returns the current time (defaults to time.Now).
	Now func() time.Time
	// After creates a timer channel (defaults to time.After).
	After func(d time.Duration) <-chan time.Time
}

// DefaultConfig returns 3 attempts starting at 100ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Normalize validates the configuration and fills optional fields.
func (c *Config) Normalize() error {
	if c.MaxAttempts <= 0 {
		return errors.New("retry: MaxAttempts must be positive")
	}
	if c.InitialDelay <= 0 {
		return errors.New("retry: InitialDelay must be positive")
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.InitialDelay > c.MaxDelay {
		return errors.New("retry: InitialDelay cannot be greater than MaxDelay")
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	if c.MaxElapsedTime < 0 {
		return errors.New("retry: MaxElapsedTime cannot be negative")
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.After == nil {
		c.After = time.After
	}
	return nil
}

// Func is an operation that can be retried.
type Func func(ctx context.Context) error

// IsRetryableFunc decides whether an error is worth another attempt.
type IsRetryableFunc func(err error) bool

// RetriesExceededError is returned when the attempts or the time budget run out.
type RetriesExceededError struct {
	LastError     error
	Attempts      int
	TotalDuration time.Duration
	Reason        string
}

func (e *RetriesExceededError) Error() string {
	return fmt.Sprintf("retry: %s after %s (%d attempts): %v", e.Reason, e.TotalDuration, e.Attempts, e.LastError)
}

func (e *RetriesExceededError) Unwrap() error {
	return e.LastError
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. Do returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// DefaultRetryable retries timeouts, unexpected EOFs, closed connections and
// network operation errors. Cancellation is never retried.
func DefaultRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}

	type temporary interface{ Temporary() bool }
	var tmp temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	return false
}

// Do runs fn with DefaultRetryable.
func Do(ctx context.Context, config Config, fn Func) error {
	return DoWithRetryable(ctx, config, fn, DefaultRetryable)
}

// DoWithRetryable runs fn until it succeeds, returns a non-retryable error,
// or the budget is exhausted.
func DoWithRetryable(ctx context.Context, config Config, fn Func, isRetryable IsRetryableFunc) error {
	cfg := config
	if err := cfg.Normalize(); err != nil {
		return err
	}

	var lastErr error
	start := cfg.Now()
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if !isRetryable(lastErr) {
			return lastErr
		}

		wait := cfg.jitter(delay)
		if cfg.MaxElapsedTime > 0 {
			elapsed := cfg.Now().Sub(start)
			if elapsed+wait > cfg.MaxElapsedTime {
				return &RetriesExceededError{
					LastError:     lastErr,
					Attempts:      attempt,
					TotalDuration: elapsed,
					Reason:        "max elapsed time exceeded",
				}
			}
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cfg.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return &RetriesExceededError{
		LastError:     lastErr,
		Attempts:      cfg.MaxAttempts,
		TotalDuration: cfg.Now().Sub(start),
		Reason:        "max attempts exceeded",
	}
}

func (c Config) jitter(d time.Duration) time.Duration {
	if !c.Jitter || d < 4 {
		return d
	}
	spread := d / 4
	d = d - spread + time.Duration(c.Rand.Int63n(int64(2*spread)))
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}
