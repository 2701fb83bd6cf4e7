package reindex

import (
	"context"
	"log/slog"
	"time"
)

// RetryWithBackoff runs operation up to maxAttempts times, doubling the
// delay after each failure starting from baseDelay. It returns the last
// error if every attempt fails, or the context error once ctx is done.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		slog.Debug("operation failed, will retry", "attempt", attempt, "max_attempts", maxAttempts, "err", lastErr)

		if attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}
