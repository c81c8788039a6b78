package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowConsumesBurstThenDenies(t *testing.T) {
	r := NewRateLimiter(1, 3)
	require.True(t, r.Allow())
	require.True(t, r.Allow())
	require.True(t, r.Allow())
	require.False(t, r.Allow(), "burst exhausted, refill rate too slow to have added a token yet")
}

func TestAllowRefillsOverTime(t *testing.T) {
	r := NewRateLimiter(1000, 1)
	require.True(t, r.Allow())
	require.False(t, r.Allow())
	time.Sleep(5 * time.Millisecond)
	require.True(t, r.Allow(), "1000/s rate should refill within 5ms")
}

func TestWaitTimesOutWhenStarved(t *testing.T) {
	r := NewRateLimiter(1, 1)
	require.True(t, r.Allow())
	ok := r.Wait(5 * time.Millisecond)
	require.False(t, ok)
}

func TestWaitSucceedsOnceTokenArrives(t *testing.T) {
	r := NewRateLimiter(500, 1)
	require.True(t, r.Allow())
	ok := r.Wait(50 * time.Millisecond)
	require.True(t, ok)
}
