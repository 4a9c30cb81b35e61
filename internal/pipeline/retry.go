package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ppiankov/medfuse/internal/connector"
)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retrier runs idempotent calls with bounded attempts and doubling backoff
type retrier struct {
	attempts int
	backoff  time.Duration
	sleep    SleepFunc
	onRetry  func(stage string)
}

func (r retrier) do(ctx context.Context, stage, call string, fn func(ctx context.Context) error) error {
	attempts := r.attempts
	if attempts < 1 {
		attempts = 1
	}

	delay := r.backoff
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !retryable(ctx, err) || attempt == attempts {
			return err
		}

		slog.Warn("retrying call",
			"stage", stage,
			"call", call,
			"attempt", attempt,
			"backoff", delay,
			"error", err)
		if r.onRetry != nil {
			r.onRetry(stage)
		}

		if serr := r.sleep(ctx, delay); serr != nil {
			return errors.Join(err, serr)
		}
		delay *= 2
	}
	return err
}

// retryable excludes caller cancellation and answers that will not change
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, connector.ErrNotFound),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
