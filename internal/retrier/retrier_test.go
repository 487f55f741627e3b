package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetrier(maxRetries int) *Retrier {
	return New(
		WithInitialInterval(time.Millisecond),
		WithMaxInterval(2*time.Millisecond),
		WithMaxRetries(maxRetries),
		WithJitter(0),
	)
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastRetrier(3).Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fastRetrier(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := fastRetrier(2).Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls) // initial attempt plus two retries
}

func TestDoStopsOnPermanent(t *testing.T) {
	rejected := errors.New("payload rejected")
	calls := 0
	err := fastRetrier(5).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(rejected)
	})
	require.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(
		WithInitialInterval(time.Minute),
		WithMaxRetries(3),
		WithJitter(0),
	)

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestDoWithData(t *testing.T) {
	calls := 0
	got, err := DoWithData(fastRetrier(3), context.Background(), func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 2, calls)
}

func TestDoWithDataReturnsLastValueOnFailure(t *testing.T) {
	boom := errors.New("boom")
	got, err := DoWithData(fastRetrier(0), context.Background(), func(context.Context) (string, error) {
		return "partial", boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", got)
}
