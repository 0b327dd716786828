package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"GapPullback/internal/apperr"
)

// Policy bounds retries of transient failures within a single tick.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

// Do runs fn until it succeeds, returns a non-transient error, or runs out of attempts.
// The delay doubles after each failure.
func Do(ctx context.Context, p Policy, log zerolog.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !apperr.IsTransient(err) || i == attempts-1 {
			break
		}
		backoff := p.BaseDelay * time.Duration(1<<uint(i))
		log.Warn().Err(err).Str("op", op).Int("attempt", i+1).Dur("backoff", backoff).Msg("transient failure, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	if apperr.IsTransient(lastErr) {
		return fmt.Errorf("%s: %d attempts exhausted: %w", op, attempts, lastErr)
	}
	return lastErr
}
