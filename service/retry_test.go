package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func alwaysTransient(error) bool { return true }

func TestRetryPolicyRecovers(t *testing.T) {
	p := RetryPolicy{Attempts: 5, BaseDelay: time.Millisecond, Factor: 2}

	calls := 0
	n, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	}, alwaysTransient)

	require.NoError(t, err)
	assert.Equal(t, uint(3), n)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyIsBounded(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, Factor: 2}

	n, err := p.Do(context.Background(), func(context.Context) error {
		return errFlaky
	}, alwaysTransient)

	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, uint(3), n)
}

func TestRetryPolicySkipsPermanentErrors(t *testing.T) {
	p := RetryPolicy{Attempts: 5, BaseDelay: time.Millisecond, Factor: 2}
	permanent := errors.New("bad request")

	n, err := p.Do(context.Background(), func(context.Context) error {
		return permanent
	}, func(err error) bool { return errors.Is(err, errFlaky) })

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, uint(1), n)
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	p := RetryPolicy{Attempts: 10, BaseDelay: time.Millisecond, Factor: 2}
	ctx, cancel := context.WithCancel(context.Background())

	n, err := p.Do(ctx, func(context.Context) error {
		cancel()
		return errFlaky
	}, alwaysTransient)

	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, uint(1), n)

	n, err = p.Do(ctx, func(context.Context) error { return nil }, alwaysTransient)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestRetryPolicyBackoffEndsWithContext(t *testing.T) {
	p := RetryPolicy{Attempts: 4, BaseDelay: 5 * time.Second, Factor: 2}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	n, err := p.Do(ctx, func(context.Context) error { return errFlaky }, alwaysTransient)

	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, uint(1), n)
	assert.Less(t, time.Since(start), time.Second)
}
