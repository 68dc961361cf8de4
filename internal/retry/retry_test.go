package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int

	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(attempt int, err error) {
		retried = append(retried, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return boom
	}, nil)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDo_Permanent(t *testing.T) {
	boom := errors.New("bad input")
	calls := 0

	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return Permanent(boom)
	}, nil)

	require.ErrorIs(t, err, boom)
	var perm *permanentError
	assert.False(t, errors.As(err, &perm))
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroPolicyTriesOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, func(context.Context) error {
		calls++
		return errors.New("x")
	}, nil)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, InitialBackoff: time.Hour}

	boom := errors.New("boom")
	err := Do(ctx, p, func(context.Context) error {
		return boom
	}, func(int, error) { cancel() })

	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, boom)
}

func TestDo_ContextErrorFromFnNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestDo_AlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Do(ctx, fastPolicy(3), func(context.Context) error {
		called = true
		return nil
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestJitter(t *testing.T) {
	d := 100 * time.Millisecond
	for range 100 {
		j := jitter(d, 0.2)
		assert.GreaterOrEqual(t, j, 80*time.Millisecond)
		assert.Less(t, j, 120*time.Millisecond)
	}
	assert.Equal(t, d, jitter(d, 0))
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
