// Package retry runs an operation a bounded number of times with a fixed pause.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, or attempts run out.
// The pause between attempts is fixed and interrupted by ctx. The returned
// attempt count is how many times fn ran.
func Do(ctx context.Context, attempts int, delay time.Duration, fn func(ctx context.Context) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return attempt, perm.err
		}

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return attempt, fmt.Errorf("retry interrupted after %d attempts: %w", attempt, errors.Join(err, ctx.Err()))
		case <-time.After(delay):
		}
	}

	return attempts, fmt.Errorf("after %d attempts: %w", attempts, err)
}
