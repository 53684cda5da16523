package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllow_PermitsUpToBurstThenDenies(t *testing.T) {
	l := New(Config{GeneralPerMinute: 2, EstimatePerMinute: 2, RelayPerMinute: 2})

	ok, _ := l.Allow(RouteGeneral, "0xabc")
	require.True(t, ok)
	ok, _ = l.Allow(RouteGeneral, "0xabc")
	require.True(t, ok)

	ok, retryAfter := l.Allow(RouteGeneral, "0xabc")
	require.False(t, ok)
	require.Greater(t, retryAfter, time.Duration(0))
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := New(Config{GeneralPerMinute: 1, EstimatePerMinute: 1, RelayPerMinute: 1})

	ok, _ := l.Allow(RouteGeneral, "0xabc")
	require.True(t, ok)

	ok, _ = l.Allow(RouteGeneral, "0xdef")
	require.True(t, ok)

	ok, _ = l.Allow(RouteGeneral, "0xabc")
	require.False(t, ok)
}

func TestAllow_RoutesAreIndependent(t *testing.T) {
	l := New(Config{GeneralPerMinute: 1, EstimatePerMinute: 1, RelayPerMinute: 1})

	ok, _ := l.Allow(RouteGeneral, "0xabc")
	require.True(t, ok)

	ok, _ = l.Allow(RouteEstimate, "0xabc")
	require.True(t, ok)

	ok, _ = l.Allow(RouteRelay, "0xabc")
	require.True(t, ok)
}

func TestEvictIdle_RemovesStaleBuckets(t *testing.T) {
	l := New(DefaultConfig())
	l.Allow(RouteGeneral, "0xabc")
	require.Len(t, l.buckets[RouteGeneral], 1)

	l.evictIdle(0)
	require.Empty(t, l.buckets[RouteGeneral])
}

func TestSweep_StopsOnContextCancel(t *testing.T) {
	l := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Sweep(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sweep did not return after context cancellation")
	}
}
