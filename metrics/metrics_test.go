package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	r := New()
	r.IncPacketsProcessed()
	r.IncPacketsProcessed()
	r.IncPacketsForwarded()
	r.IncReplaysDetected()

	snap := r.Snapshot()
	require.Equal(t, uint64(2), snap.PacketsProcessed)
	require.Equal(t, uint64(1), snap.PacketsForwarded)
	require.Equal(t, uint64(1), snap.ReplaysDetected)
}

func TestDropsKeyedByReason(t *testing.T) {
	r := New()
	r.IncDrop("bad_mac")
	r.IncDrop("bad_mac")
	r.IncDrop("replay")

	snap := r.Snapshot()
	require.Equal(t, uint64(2), snap.Drops["bad_mac"])
	require.Equal(t, uint64(1), snap.Drops["replay"])
}

func TestPoolHitRateTracksRatio(t *testing.T) {
	r := New()
	r.IncPoolHit()
	r.IncPoolHit()
	r.IncPoolHit()
	r.IncPoolMiss()

	snap := r.Snapshot()
	require.InDelta(t, 0.75, snap.PoolHitRate, 0.3, "EWMA converges toward but may not equal the raw ratio")
}

func TestLatencyGaugeConvergesTowardSamples(t *testing.T) {
	r := New()
	for i := 0; i < 50; i++ {
		r.ObserveLatency(10.0)
	}
	snap := r.Snapshot()
	require.InDelta(t, 10.0, snap.AvgLatencyMs, 0.5)
}

func TestSnapshotIsConcurrencySafe(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncPacketsProcessed()
			r.IncDrop("malformed")
			_ = r.Snapshot()
		}()
	}
	wg.Wait()
	snap := r.Snapshot()
	require.Equal(t, uint64(20), snap.PacketsProcessed)
	require.Equal(t, uint64(20), snap.Drops["malformed"])
}
