package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutateRunsOnce(t *testing.T) {
	c := newTestCache()
	SetData(c, Key{"my-orders"}, 1)
	calls := 0
	var gotErr error
	boom := errors.New("boom")

	_, err := Mutate(context.Background(), c, func(context.Context) (int, error) {
		calls++
		return 0, boom
	}, MutateOptions[int]{
		OnSuccess: func(int) { t.Error("OnSuccess called") },
		OnError:   func(err error) { gotErr = err },
	})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, gotErr, boom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, Get[int](c, Key{"my-orders"}).Data)
}

func TestMutateRetry(t *testing.T) {
	c := newTestCache()
	calls := 0
	var got int
	v, err := Mutate(context.Background(), c, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, MutateOptions[int]{
		Retry:      2,
		RetryDelay: time.Millisecond,
		OnSuccess:  func(v int) { got = v },
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestMutateRetryIf(t *testing.T) {
	c := newTestCache()
	permanent := errors.New("permanent")
	calls := 0
	_, err := Mutate(context.Background(), c, func(context.Context) (int, error) {
		calls++
		return 0, permanent
	}, MutateOptions[int]{
		Retry:   5,
		RetryIf: func(err error) bool { return !errors.Is(err, permanent) },
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestMutateStopsOnCancel(t *testing.T) {
	c := newTestCache()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Mutate(ctx, c, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("failed")
	}, MutateOptions[int]{Retry: 3, RetryDelay: time.Hour})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
