package query

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrRetryExhausted is returned when every attempt of a fetch failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context ends during a retry backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// backoffDelay returns the jittered delay before retry number attempt (0-based).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	backoff := base
	for i := 0; i < attempt && backoff < MaxRetryDelay; i++ {
		backoff *= 2
	}
	if backoff > MaxRetryDelay {
		backoff = MaxRetryDelay
	}

	// ±20% jitter
	return time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
}

// retryWithBackoff runs producer until it succeeds or the retries in opts are used up.
// A single failed attempt returns the producer's error unchanged.
func retryWithBackoff(ctx context.Context, opts Options, logger zerolog.Logger, producer Producer) ([]byte, error) {
	maxRetries := opts.retries()

	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++

		data, err := producer(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info().
					Int("attempt", attempts).
					Msg("Query succeeded after retry")
			}
			return data, nil
		}

		lastErr = err

		if opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			break
		}

		if attempt >= maxRetries {
			break
		}

		Retries.Inc()

		delay := backoffDelay(opts.RetryDelay, attempt)
		RetryBackoff.Observe(delay.Seconds())

		logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("backoff", delay).
			Msg("Retrying query after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Int("attempt", attempts).
				Msg("Context cancelled during retry backoff")
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	if attempts == 1 {
		return nil, lastErr
	}

	RetryExhausted.Inc()
	logger.Error().
		Err(lastErr).
		Int("attempts", attempts).
		Msg("Query retry attempts exhausted")

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
}
