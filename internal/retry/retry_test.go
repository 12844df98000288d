package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := DoWithConfig(context.Background(), zerolog.Nop(), "page 1", 3, fastConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := DoWithConfig(context.Background(), zerolog.Nop(), "page 1", 3, fastConfig(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	base := errors.New("permanent")
	calls := 0
	err := DoWithConfig(context.Background(), zerolog.Nop(), "page 2", 2, fastConfig(), func(ctx context.Context) error {
		calls++
		return base
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "one initial attempt plus two retries")
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "page 2")
}

func TestDo_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	calls := 0
	err := DoWithConfig(context.Background(), zerolog.Nop(), "page 1", 0, fastConfig(), func(ctx context.Context) error {
		calls++
		return errors.New("nope")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- DoWithConfig(ctx, zerolog.Nop(), "page 1", 5, cfg, func(ctx context.Context) error {
			return errors.New("always")
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestBackoffFor_CapsAtMax(t *testing.T) {
	cfg := Config{InitialBackoff: time.Second, MaxBackoff: 4 * time.Second}

	assert.Equal(t, time.Second, backoffFor(0, cfg))
	assert.Equal(t, 2*time.Second, backoffFor(1, cfg))
	assert.Equal(t, 4*time.Second, backoffFor(2, cfg))
	assert.Equal(t, 4*time.Second, backoffFor(5, cfg))
}
