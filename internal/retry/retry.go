// Package retry is the single place in the pipeline where failed unit
// operations are retried. Neither the model adapters nor the drivers
// retry internally.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

const (
	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 10 * time.Second
)

// Config holds retry timing configuration
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the default retry timing
func DefaultConfig() Config {
	return Config{
		InitialBackoff: initialBackoff,
		MaxBackoff:     maxBackoff,
	}
}

// backoffFor calculates the exponential backoff for an attempt
func backoffFor(attempt int, cfg Config) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	return time.Duration(backoff)
}

// Do runs op, retrying up to maxRetries additional times with bounded
// exponential backoff. Every failed attempt is logged with the tag;
// the final error is returned wrapped after exhaustion. The sleep
// between attempts honors ctx.
func Do(ctx context.Context, log zerolog.Logger, tag string, maxRetries int, op func(context.Context) error) error {
	return DoWithConfig(ctx, log, tag, maxRetries, DefaultConfig(), op)
}

// DoWithConfig is Do with explicit timing, for tests
func DoWithConfig(ctx context.Context, log zerolog.Logger, tag string, maxRetries int, cfg Config, op func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		log.Debug().
			Str("tag", tag).
			Int("attempt", attempt+1).
			Int("maxRetries", maxRetries).
			Err(err).
			Msg("attempt failed")

		if attempt == maxRetries {
			break
		}

		backoff := backoffFor(attempt, cfg)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	log.Error().
		Str("tag", tag).
		Int("maxRetries", maxRetries).
		Err(lastErr).
		Msg("retries exhausted")

	return fmt.Errorf("%s failed after %d retries: %w", tag, maxRetries, lastErr)
}
