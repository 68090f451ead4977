package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient failure")

func quickConfig(attempts int) Config {
	return Config{
		Attempts:  attempts,
		BaseDelay: time.Millisecond,
		MaxDelay:  10 * time.Millisecond,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickConfig(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickConfig(5), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickConfig(3), func() error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad credentials")
	cfg := quickConfig(5)
	cfg.Permanent = func(err error) bool { return errors.Is(err, permanent) }

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := quickConfig(10)
	cfg.BaseDelay = 50 * time.Millisecond

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, func() error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, calls, 1)
}

func TestDelayBackoffAndCap(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, delayFor(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, delayFor(cfg, 1))
	assert.Equal(t, 300*time.Millisecond, delayFor(cfg, 2), "delay is capped")
	assert.Equal(t, 300*time.Millisecond, delayFor(cfg, 5))
}

func TestDelayJitterStaysInRange(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: true}

	for i := 0; i < 50; i++ {
		d := delayFor(cfg, 1)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}
