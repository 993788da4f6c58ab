package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"fundingwatch/internal/domain"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration

	// timer overrides the backoff timer in tests.
	timer backoff.Timer
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", domain.ErrFetchExhausted, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, domain.ErrFetchExhausted) match.
func (e *ExhaustedError) Is(target error) bool {
	return target == domain.ErrFetchExhausted
}

// Do runs op until it succeeds or MaxAttempts is reached, sleeping Delay
// between attempts. On success it also returns how many attempts failed first.
func Do[T any](ctx context.Context, policy Policy, logger zerolog.Logger, op func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Delay), uint64(maxAttempts-1)),
		ctx,
	)

	attempts := 0
	var lastErr error
	operation := func() (T, error) {
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}
		attempts++
		res, err := op(ctx)
		if err != nil {
			lastErr = err
		}
		return res, err
	}

	notify := func(err error, next time.Duration) {
		logger.Warn().Err(err).
			Int("attempt", attempts).
			Int("max_attempts", maxAttempts).
			Dur("retry_in", next).
			Msg("attempt failed, retrying")
	}

	res, err := backoff.RetryNotifyWithTimerAndData[T](operation, b, notify, policy.timer)
	if err == nil {
		return res, attempts - 1, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return zero, attempts, ctxErr
	}

	logger.Error().Err(lastErr).Int("attempts", attempts).Msg("retries exhausted")
	return zero, attempts, &ExhaustedError{Attempts: attempts, Err: lastErr}
}
