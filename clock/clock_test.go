package clock

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestNowAdvancesEpochOnFakeClock(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New(fc, 10*time.Second)

	epoch, elapsed, till := c.Now()
	require.Equal(t, uint64(0), epoch)
	require.Equal(t, time.Duration(0), elapsed)
	require.Equal(t, 10*time.Second, till)

	fc.Advance(12 * time.Second)
	epoch, elapsed, till = c.Now()
	require.Equal(t, uint64(1), epoch)
	require.Equal(t, 2*time.Second, elapsed)
	require.Equal(t, 8*time.Second, till)
}

func TestSleeperFiresAfterOnePeriod(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New(fc, 5*time.Millisecond)
	ch := c.Sleeper()

	select {
	case <-ch:
		t.Fatal("sleeper fired before the clock advanced")
	default:
	}

	fc.Advance(5 * time.Millisecond)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("sleeper never fired after the clock advanced")
	}
}
