// Package retry runs an operation with exponential backoff.
//
// Lifecycle operations are never retried internally; this package is for
// process start-up checks such as waiting for the container runtime socket.
//
//	err := retry.Do(ctx, retry.Policy{Attempts: 5, Delay: time.Second}, adapter.Ping)
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy controls how Do backs off.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	// Values below 1 mean a single call.
	Attempts int
	// Delay is the wait before the second call; it doubles after every
	// failure up to MaxDelay.
	Delay    time.Duration
	MaxDelay time.Duration
	// Retryable classifies errors. Nil retries every error.
	Retryable func(err error) bool
}

// StartupPolicy is used when waiting for collaborators at boot.
var StartupPolicy = Policy{
	Attempts: 5,
	Delay:    500 * time.Millisecond,
	MaxDelay: 5 * time.Second,
}

// Do calls fn until it succeeds, the policy is exhausted, fn returns a
// non-retryable error, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Delay <= 0 {
		p.Delay = StartupPolicy.Delay
	}
	if p.MaxDelay < p.Delay {
		p.MaxDelay = p.Delay
	}

	delay := p.Delay
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt >= p.Attempts {
			return err
		}

		slog.Debug("retry: attempt failed", "attempt", attempt, "of", p.Attempts, "delay", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, p.MaxDelay)
	}
}
