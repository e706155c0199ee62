package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/CrusoO/Rag-knowledge-system/internal/store/sqlite"
)

func newLimiter(t *testing.T, window time.Duration, max int) (*Limiter, *time.Time) {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := New(s.RateCounters(), window, max, zerolog.Nop()).
		WithClock(func() time.Time { return clock })
	return l, &clock
}

func TestAllowUnderCap(t *testing.T) {
	l, _ := newLimiter(t, 15*time.Minute, 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "u1", EndpointChat)
		require.NoError(t, err)
		require.True(t, ok, "request %d should be admitted", i+1)
	}
	ok, err := l.Allow(ctx, "u1", EndpointChat)
	require.NoError(t, err)
	require.False(t, ok, "request over cap must be denied")
}

func TestDenyDoesNotConsume(t *testing.T) {
	l, clock := newLimiter(t, 15*time.Minute, 1)
	ctx := context.Background()
	ok, err := l.Allow(ctx, "u1", EndpointChat)
	require.NoError(t, err)
	require.True(t, ok)

	// Denied attempts must not extend the window.
	for i := 0; i < 5; i++ {
		ok, err = l.Allow(ctx, "u1", EndpointChat)
		require.NoError(t, err)
		require.False(t, ok)
	}
	*clock = clock.Add(15 * time.Minute)
	ok, err = l.Allow(ctx, "u1", EndpointChat)
	require.NoError(t, err)
	require.True(t, ok, "window anchored at first admit, not at denials")
}

func TestWindowReset(t *testing.T) {
	l, clock := newLimiter(t, 15*time.Minute, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "u1", EndpointChat)
		require.NoError(t, err)
		require.True(t, ok)
	}
	*clock = clock.Add(14 * time.Minute)
	ok, err := l.Allow(ctx, "u1", EndpointChat)
	require.NoError(t, err)
	require.False(t, ok, "still inside the window")

	*clock = clock.Add(time.Minute)
	ok, err = l.Allow(ctx, "u1", EndpointChat)
	require.NoError(t, err)
	require.True(t, ok, "window elapsed, counter resets")
}

func TestEndpointsIndependent(t *testing.T) {
	l, _ := newLimiter(t, 15*time.Minute, 1)
	ctx := context.Background()
	ok, err := l.Allow(ctx, "u1", EndpointChat)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = l.Allow(ctx, "u1", EndpointUpload)
	require.NoError(t, err)
	require.True(t, ok, "upload window is independent of chat")
}

func TestSubjectsIndependent(t *testing.T) {
	l, _ := newLimiter(t, 15*time.Minute, 1)
	ctx := context.Background()
	ok, err := l.Allow(ctx, "u1", EndpointChat)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = l.Allow(ctx, "u2", EndpointChat)
	require.NoError(t, err)
	require.True(t, ok, "u2 has its own window")
}

func TestEmptySubjectDenied(t *testing.T) {
	l, _ := newLimiter(t, 15*time.Minute, 100)
	ok, err := l.Allow(context.Background(), "", EndpointChat)
	require.NoError(t, err)
	require.False(t, ok)
}
