// Package retry provides bounded polling and backoff helpers. Every loop here
// terminates: either the condition holds, the bound elapses, or ctx is done.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a poll exhausts its bound or is cancelled.
var ErrTimeout = errors.New("polling bound exceeded")

// Bound limits a polling loop by interval and total duration.
type Bound struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (b Bound) Validate() error {
	if b.Interval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if b.Timeout <= 0 {
		return errors.New("poll timeout must be positive")
	}
	return nil
}

// Condition reports whether polling is done. A non-nil error aborts polling
// immediately unless it is wrapped with Transient.
type Condition func(ctx context.Context) (done bool, err error)

// Poll evaluates cond right away and then once per interval until it reports
// done, fails, or the bound elapses. cond runs under a context that ends with
// the bound; a call still running at that point is abandoned. Cancellation of
// ctx is reported as ErrTimeout as well, joined with the context error.
func Poll(ctx context.Context, bound Bound, cond Condition) error {
	if err := bound.Validate(); err != nil {
		return err
	}

	pollCtx, cancel := context.WithTimeout(ctx, bound.Timeout)
	defer cancel()

	ticker := time.NewTicker(bound.Interval)
	defer ticker.Stop()

	attempts := 0
	var lastErr error
	for {
		if pollCtx.Err() != nil {
			return expired(ctx, attempts, bound.Timeout, lastErr)
		}

		attempts++
		done, err := evaluate(pollCtx, cond)
		switch {
		case err == nil && done:
			return nil
		case pollCtx.Err() != nil:
			if err != nil && !errors.Is(err, pollCtx.Err()) {
				lastErr = err
			}
			return expired(ctx, attempts, bound.Timeout, lastErr)
		case err != nil && !IsTransient(err):
			return err
		case err != nil:
			lastErr = err
		}

		select {
		case <-pollCtx.Done():
			return expired(ctx, attempts, bound.Timeout, lastErr)
		case <-ticker.C:
		}
	}
}

// evaluate runs cond and stops waiting for it once ctx is done.
func evaluate(ctx context.Context, cond Condition) (bool, error) {
	type result struct {
		done bool
		err  error
	}

	results := make(chan result, 1)
	go func() {
		done, err := cond(ctx)
		results <- result{done: done, err: err}
	}()

	select {
	case r := <-results:
		return r.done, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func expired(parent context.Context, attempts int, timeout time.Duration, lastErr error) error {
	err := timeoutError(attempts, timeout, lastErr)
	if parent.Err() != nil {
		return errors.Join(err, parent.Err())
	}
	return err
}

func timeoutError(attempts int, timeout time.Duration, lastErr error) error {
	err := fmt.Errorf("%w after %d attempts within %s", ErrTimeout, attempts, timeout)
	if lastErr != nil {
		return fmt.Errorf("%w: last error: %w", err, lastErr)
	}
	return err
}

// TransientError marks a condition error as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// Backoff configures WithExponentialBackoff.
type Backoff struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Option is a functional option for backoff configuration.
type Option func(*Backoff)

// WithExponentialBackoff retries operation with growing delays up to
// MaxRetries times.
func WithExponentialBackoff(ctx context.Context, operation func() error, opts ...Option) error {
	cfg := &Backoff{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled after %d attempts: %w", attempt+1, ctx.Err())
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * cfg.Multiplier)
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

func WithMaxRetries(n int) Option {
	return func(c *Backoff) {
		c.MaxRetries = n
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(c *Backoff) {
		c.InitialDelay = d
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *Backoff) {
		c.MaxDelay = d
	}
}
