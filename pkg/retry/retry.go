// Package retry runs an operation repeatedly with exponential backoff until
// it succeeds, a permanent error is seen, or the attempt budget runs out.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

type Config struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// BaseDelay is the wait after the first failure; each further wait
	// doubles, capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter spreads each wait by up to +/-25% so that restarting clients
	// do not reconnect in lockstep.
	Jitter bool
	// Permanent, when set, short-circuits the loop for errors that more
	// attempts cannot fix.
	Permanent func(error) bool
}

func DefaultConfig() Config {
	return Config{
		Attempts:  3,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		Jitter:    true,
	}
}

// Do runs fn until it returns nil. The context aborts both in-between waits
// and the loop itself; fn is responsible for honoring it internally.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if cfg.Permanent != nil && cfg.Permanent(lastErr) {
			return lastErr
		}
		if attempt == cfg.Attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(delayFor(cfg, attempt)):
		}
	}
	return fmt.Errorf("after %d attempts: %w", cfg.Attempts, lastErr)
}

func delayFor(cfg Config, attempt int) time.Duration {
	delay := cfg.BaseDelay << attempt
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter && delay > 0 {
		quarter := int64(delay / 4)
		delay += time.Duration(rand.Int63n(2*quarter+1) - quarter)
	}
	return delay
}
