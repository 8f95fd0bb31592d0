package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type permanentErr struct{}

func (permanentErr) Error() string   { return "permanent" }
func (permanentErr) Retryable() bool { return false }

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 5, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 5, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return permanentErr{}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Policy{MaxRetries: 5, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return errors.New("x")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, calls)
}
