// metrics.go - lock-free counters and EWMA gauges.
// Copyright (C) 2017  David Anthony Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package metrics holds the mixnode's runtime counters: atomic packet
// counts, EWMA gauges for latency/throughput/pool-hit-rate, and a
// Snapshot of all of them. Snapshot reads the counters and gauges with
// atomic loads; the per-reason drop map is copied under dropsMu, the mutex
// IncDrop also takes, so Snapshot is not lock-free.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ewmaAlpha controls how quickly a gauge converges to recent samples; 0.2
// weights the newest sample at 20%.
const ewmaAlpha = 0.2

// ewma is a lock-free exponentially weighted moving average, stored as the
// bit pattern of a float64 behind an atomic so Observe never blocks a
// concurrent caller.
type ewma struct {
	bits uint64
	set  uint32
}

func (e *ewma) Observe(sample float64) {
	for {
		old := atomic.LoadUint64(&e.bits)
		var next float64
		if atomic.LoadUint32(&e.set) == 0 {
			next = sample
		} else {
			next = ewmaAlpha*sample + (1-ewmaAlpha)*math.Float64frombits(old)
		}
		if atomic.CompareAndSwapUint64(&e.bits, old, math.Float64bits(next)) {
			atomic.StoreUint32(&e.set, 1)
			return
		}
	}
}

func (e *ewma) Value() float64 {
	return math.Float64frombits(atomic.LoadUint64(&e.bits))
}

// Registry holds every counter and gauge the node exposes.
type Registry struct {
	packetsProcessed uint64
	packetsForwarded uint64
	packetsDelivered uint64
	replaysDetected  uint64
	poolHits         uint64
	poolMisses       uint64

	avgLatencyMs  ewma
	poolHitRate   ewma
	throughputPPS ewma

	dropsMu sync.Mutex
	drops   map[string]uint64

	startedAt time.Time
}

// New returns an empty Registry, started now.
func New() *Registry {
	return &Registry{
		drops:     make(map[string]uint64),
		startedAt: time.Now(),
	}
}

// IncPacketsProcessed records one frame accepted off the ingress transport,
// counted before version gating.
func (r *Registry) IncPacketsProcessed() { atomic.AddUint64(&r.packetsProcessed, 1) }

// IncPacketsForwarded records one KindForward outcome.
func (r *Registry) IncPacketsForwarded() { atomic.AddUint64(&r.packetsForwarded, 1) }

// IncPacketsDelivered records one KindDeliver outcome.
func (r *Registry) IncPacketsDelivered() { atomic.AddUint64(&r.packetsDelivered, 1) }

// IncReplaysDetected records one DropReplay outcome.
func (r *Registry) IncReplaysDetected() { atomic.AddUint64(&r.replaysDetected, 1) }

// IncPoolHit records a buffer pool Acquire that did not block.
func (r *Registry) IncPoolHit() {
	atomic.AddUint64(&r.poolHits, 1)
	r.updatePoolHitRate()
}

// IncPoolMiss records a buffer pool Acquire that had to wait.
func (r *Registry) IncPoolMiss() {
	atomic.AddUint64(&r.poolMisses, 1)
	r.updatePoolHitRate()
}

func (r *Registry) updatePoolHitRate() {
	hits := atomic.LoadUint64(&r.poolHits)
	misses := atomic.LoadUint64(&r.poolMisses)
	total := hits + misses
	if total == 0 {
		return
	}
	r.poolHitRate.Observe(float64(hits) / float64(total))
}

// IncDrop records one dropped packet, keyed by a sphinx.DropReason or
// pipeline.DropReason String().
func (r *Registry) IncDrop(reason string) {
	r.dropsMu.Lock()
	defer r.dropsMu.Unlock()
	r.drops[reason]++
}

// ObserveLatency feeds one processing-latency sample (in milliseconds)
// into the avg_latency_ms gauge.
func (r *Registry) ObserveLatency(ms float64) { r.avgLatencyMs.Observe(ms) }

// ObserveThroughput feeds one instantaneous packets-per-second sample into
// the throughput_pps gauge.
func (r *Registry) ObserveThroughput(pps float64) { r.throughputPPS.Observe(pps) }

// Snapshot is an immutable point-in-time copy of every metric, safe to
// serialize (for the admin socket's get_metrics command) without holding
// any lock while doing so.
type Snapshot struct {
	PacketsProcessed uint64
	PacketsForwarded uint64
	PacketsDelivered uint64
	ReplaysDetected  uint64
	PoolHits         uint64
	PoolMisses       uint64
	Drops            map[string]uint64
	AvgLatencyMs     float64
	PoolHitRate      float64
	ThroughputPPS    float64
	UptimeSeconds    float64
}

// Snapshot takes a consistent-enough copy of the registry for reporting.
// Individual atomics may advance between fields being read, which is
// acceptable for a monitoring snapshot.
func (r *Registry) Snapshot() Snapshot {
	r.dropsMu.Lock()
	drops := make(map[string]uint64, len(r.drops))
	for k, v := range r.drops {
		drops[k] = v
	}
	r.dropsMu.Unlock()

	return Snapshot{
		PacketsProcessed: atomic.LoadUint64(&r.packetsProcessed),
		PacketsForwarded: atomic.LoadUint64(&r.packetsForwarded),
		PacketsDelivered: atomic.LoadUint64(&r.packetsDelivered),
		ReplaysDetected:  atomic.LoadUint64(&r.replaysDetected),
		PoolHits:         atomic.LoadUint64(&r.poolHits),
		PoolMisses:       atomic.LoadUint64(&r.poolMisses),
		Drops:            drops,
		AvgLatencyMs:     r.avgLatencyMs.Value(),
		PoolHitRate:      r.poolHitRate.Value(),
		ThroughputPPS:    r.throughputPPS.Value(),
		UptimeSeconds:    time.Since(r.startedAt).Seconds(),
	}
}
