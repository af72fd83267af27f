package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, cfg Config) (*RateLimitService, *fakeClock) {
	t.Helper()
	s := NewRateLimitService(cfg, zap.NewNop())
	require.NotNil(t, s)
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.now
	return s, clock
}

func TestNewRateLimitService_Disabled(t *testing.T) {
	assert.Nil(t, NewRateLimitService(Config{}, nil))
	assert.Nil(t, NewRateLimitService(Config{RequestsPerMinute: -3}, nil))
}

func TestCheckLimit(t *testing.T) {
	s, clock := newTestService(t, Config{RequestsPerMinute: 60, Burst: 2})

	assert.True(t, s.CheckLimit("alice").Allowed)
	assert.True(t, s.CheckLimit("alice").Allowed)

	denied := s.CheckLimit("alice")
	assert.False(t, denied.Allowed)
	assert.InDelta(t, time.Second, denied.RetryAfter, float64(10*time.Millisecond))

	// Other users have their own bucket.
	assert.True(t, s.CheckLimit("bob").Allowed)

	// A denied request does not consume a token.
	clock.advance(time.Second)
	assert.True(t, s.CheckLimit("alice").Allowed)
	assert.False(t, s.CheckLimit("alice").Allowed)
}

func TestAllow(t *testing.T) {
	s, _ := newTestService(t, Config{RequestsPerMinute: 30})

	ok, wait := s.Allow("alice")
	assert.True(t, ok)
	assert.Zero(t, wait)

	ok, wait = s.Allow("alice")
	assert.False(t, ok)
	assert.InDelta(t, 2*time.Second, wait, float64(10*time.Millisecond))
}

func TestCleanupIdle(t *testing.T) {
	s, clock := newTestService(t, Config{RequestsPerMinute: 60, Burst: 1, IdleTTL: time.Minute})

	s.CheckLimit("alice")
	clock.advance(30 * time.Second)
	s.CheckLimit("bob")
	clock.advance(45 * time.Second)

	assert.Equal(t, 1, s.CleanupIdle())
	assert.Len(t, s.buckets, 1)
	assert.Contains(t, s.buckets, "bob")
}

func TestStartCleanupWorker_StopsOnCancel(t *testing.T) {
	s, _ := newTestService(t, Config{RequestsPerMinute: 60})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.StartCleanupWorker(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop")
	}
}
