package werrors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, "test-op", 3, time.Millisecond, func(error) bool { return true }, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, "test-op", 3, time.Millisecond, func(error) bool { return true }, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetriable(t *testing.T) {
	calls := 0
	sentinel := errors.New("permanent")
	err := Do(context.Background(), nil, "test-op", 3, time.Millisecond, func(error) bool { return false }, func() error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	sentinel := errors.New("always fails")
	err := Do(context.Background(), nil, "test-op", 2, time.Millisecond, func(error) bool { return true }, func() error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, nil, "test-op", 5, 50*time.Millisecond, func(error) bool { return true }, func() error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindRequestCanceled, kind)
}

func TestStatusRetriable(t *testing.T) {
	assert.True(t, StatusRetriable(500))
	assert.True(t, StatusRetriable(503))
	assert.True(t, StatusRetriable(429))
	assert.False(t, StatusRetriable(400))
	assert.False(t, StatusRetriable(404))
	assert.False(t, StatusRetriable(200))
}

func TestTransportOr5xx(t *testing.T) {
	assert.False(t, TransportOr5xx(nil))
	assert.True(t, TransportOr5xx(New(KindAIServiceUnavailable, "down", nil)))
	assert.False(t, TransportOr5xx(New(KindAIServiceRefused, "refused", nil)))
}
