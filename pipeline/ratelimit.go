// ratelimit.go - token-bucket egress rate limiter.
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
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package pipeline

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket capping sustained egress throughput at a
// target rate, refilled continuously rather than in discrete ticks so a
// burst of packets releasing from the scheduler at the same instant still
// drains smoothly.
type RateLimiter struct {
	mu         sync.Mutex
	ratePerSec float64
	burst      float64
	tokens     float64
	last       time.Time
	now        func() time.Time
}

// NewRateLimiter returns a limiter allowing ratePerSec sustained and burst
// instantaneous token capacity. ratePerSec is typically
// constants.DefaultTargetThroughputPPS.
func NewRateLimiter(ratePerSec float64, burst int) *RateLimiter {
	return &RateLimiter{
		ratePerSec: ratePerSec,
		burst:      float64(burst),
		tokens:     float64(burst),
		last:       time.Now(),
		now:        time.Now,
	}
}

func (r *RateLimiter) refill() {
	now := r.now()
	elapsed := now.Sub(r.last).Seconds()
	if elapsed <= 0 {
		return
	}
	r.tokens += elapsed * r.ratePerSec
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
	r.last = now
}

// Allow consumes one token if available and reports whether it did.
// Non-blocking; the caller decides what to do with a denied packet
// (typically a bounded wait via Wait, or an immediate RateLimited drop).
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}

// Wait blocks in small increments until a token is available or timeout
// elapses, returning false in the latter case. timeout is typically
// constants.DefaultEgressTimeout.
func (r *RateLimiter) Wait(timeout time.Duration) bool {
	deadline := r.now().Add(timeout)
	const pollInterval = 200 * time.Microsecond
	for {
		if r.Allow() {
			return true
		}
		if r.now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
