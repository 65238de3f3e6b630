package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiryWithInjectedClock(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

	now = now.Add(59 * time.Second)
	_, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestSetNX(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	won, err := s.SetNX(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	v, _, _ := s.Get(ctx, "lock")
	assert.Equal(t, "a", v, "losing SetNX must not clobber the holder")

	// Expired locks are free to claim.
	now = now.Add(2 * time.Minute)
	won, err = s.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestIncrKeepsFirstDeadline(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	n, err := s.Incr(ctx, "count", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	now = now.Add(30 * time.Minute)
	n, err = s.Incr(ctx, "count", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// The window anchors at the first increment, not the latest.
	ttl, err := s.TTL(ctx, "count")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, ttl)

	// Past the window the counter restarts.
	now = now.Add(31 * time.Minute)
	n, err = s.Incr(ctx, "count", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTTLUnsetAndMissing(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "forever", "v", 0))

	ttl, err := s.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	ttl, err = s.TTL(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	require.NoError(t, s.Delete(ctx, "k"))

	_, ok, _ := s.Get(ctx, "k")
	assert.False(t, ok)
}
