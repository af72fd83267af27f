package upstream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type tempErr struct{ temp bool }

func (e tempErr) Error() string   { return "temp error" }
func (e tempErr) Temporary() bool { return e.temp }

func fastPolicy(retries int) Policy {
	return Policy{
		Timeout:    50 * time.Millisecond,
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 200*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(2))
	assert.Equal(t, time.Second, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(62))
	assert.Equal(t, time.Duration(0), Policy{}.Backoff(3))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(tempErr{temp: true}))
	assert.False(t, IsTransient(tempErr{temp: false}))
	assert.False(t, IsTransient(errors.New("bad request")))
	assert.False(t, IsTransient(context.Canceled))
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	var calls int32
	got, err := Do(context.Background(), fastPolicy(2), zap.NewNop(), "test", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(1), calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	got, err := Do(context.Background(), fastPolicy(3), nil, "test", func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, tempErr{temp: true}
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, int32(3), calls)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	var calls int32
	cause := errors.New("invalid api key")

	_, err := Do(context.Background(), fastPolicy(3), zap.NewNop(), "test", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, cause
	})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, int32(1), calls)
}

func TestDo_RetriesExhausted(t *testing.T) {
	var calls int32
	_, err := Do(context.Background(), fastPolicy(2), zap.NewNop(), "test", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, tempErr{temp: true}
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls)
}

func TestDo_AttemptTimeoutBecomesErrTimeout(t *testing.T) {
	var calls int32
	_, err := Do(context.Background(), fastPolicy(1), zap.NewNop(), "generate", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return 0, ctx.Err()
	})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(2), calls)
}

func TestDo_ParentCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32

	_, err := Do(ctx, Policy{MaxRetries: 5, BaseDelay: time.Hour}, zap.NewNop(), "test", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		cancel()
		return 0, tempErr{temp: true}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(1), calls)
}
