// delay.go - VRF-seeded exponential delay sampling.
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

package vrf

import (
	"crypto/ed25519"
	"encoding/binary"
	"math"
	"time"
)

// DelayParams holds the hot-reloadable Poisson delay configuration.
type DelayParams struct {
	Mean time.Duration
	Min  time.Duration
	Max  time.Duration
}

// DefaultDelayParams matches the spec's defaults: 500/50/2000 ms.
func DefaultDelayParams() DelayParams {
	return DelayParams{
		Mean: 500 * time.Millisecond,
		Min:  50 * time.Millisecond,
		Max:  2000 * time.Millisecond,
	}
}

// NextDelay interprets entropy as a big-endian uint64, maps it to a uniform
// u in (0,1], and returns clamp(-mean*ln(u), min, max). Used both standalone
// (given raw entropy, e.g. in tests) and via NextDelayForPacket (given a
// packet's VRF-derived entropy).
func NextDelay(entropy [8]byte, p DelayParams) time.Duration {
	u64 := binary.BigEndian.Uint64(entropy[:])
	// Map the full uint64 range to (0,1] rather than [0,1): a zero draw
	// would make ln(u) diverge to -Inf.
	u := (float64(u64) + 1) / (math.MaxUint64 + 1)

	raw := -float64(p.Mean) * math.Log(u)
	d := time.Duration(raw)

	if d < p.Min {
		return p.Min
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// NextDelayForPacket derives VRF entropy for packetTag under sk and returns
// the resulting clamped exponential delay, alongside the VRF output/proof
// an auditor can use to verify the delay was not hand-chosen by the relay.
func NextDelayForPacket(sk ed25519.PrivateKey, packetTag []byte, p DelayParams) (time.Duration, Output, Proof) {
	out, proof := Eval(sk, DelayDomain, packetTag)
	var entropy [8]byte
	copy(entropy[:], out[:8])
	return NextDelay(entropy, p), out, proof
}
