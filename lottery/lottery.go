// lottery.go - stake/reputation-weighted relay selection.
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

// Package lottery implements weighted, VRF-seeded relay selection: a single
// draw against a reputation/performance/stake-weighted distribution, and
// Build, which repeatedly draws a distinct relay per hop to assemble a
// full path, retrying on collision the way path_selection.RouteFactory
// retries a whole path on an unsatisfiable constraint.
package lottery

import (
	"crypto/ed25519"
	"errors"
	"sort"

	"github.com/anonmix/mixnode/crypto"
	"github.com/anonmix/mixnode/vrf"
)

var (
	// ErrNoRelays is returned when the table backing a Lottery is empty.
	ErrNoRelays = errors.New("lottery: no relays available")

	// ErrInsufficientRelays is returned when Build cannot assemble
	// hopCount distinct relays within its retry budget.
	ErrInsufficientRelays = errors.New("lottery: insufficient distinct relays for requested path length")
)

// Weighting coefficients for a relay's selection weight, per §4.5.
const (
	reputationWeight  = 0.5
	performanceWeight = 0.3
	stakeWeight       = 0.2
)

// RelayDescriptor is one relay's selection-relevant state.
type RelayDescriptor struct {
	ID            [16]byte
	PublicKey     [32]byte
	Address       [18]byte
	Reputation    float64 // EWMA in [0, 1]
	Performance   float64 // EWMA in [0, 1]
	StakeFraction float64 // this relay's stake / total network stake, in [0, 1]
}

// Weight returns the relay's selection weight, a convex combination of its
// reputation, performance, and stake fraction.
func (d RelayDescriptor) Weight() float64 {
	return reputationWeight*d.Reputation + performanceWeight*d.Performance + stakeWeight*d.StakeFraction
}

// Lottery is an immutable, weighted selection distribution over a snapshot
// of relays. Build a new Lottery whenever the relay table refreshes;
// existing Lotteries are never mutated in place, so concurrent Select
// calls need no locking.
type Lottery struct {
	relays     []RelayDescriptor
	cumulative []float64
	total      float64
}

// New builds a Lottery from relays, sorted ascending by ID so selection
// among equal-weight entries is deterministic.
func New(relays []RelayDescriptor) (*Lottery, error) {
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}
	sorted := append([]RelayDescriptor(nil), relays...)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i].ID[:]) < string(sorted[j].ID[:])
	})

	cum := make([]float64, len(sorted))
	total := 0.0
	for i, d := range sorted {
		w := d.Weight()
		if w < 0 {
			w = 0
		}
		total += w
		cum[i] = total
	}
	return &Lottery{relays: sorted, cumulative: cum, total: total}, nil
}

// Len returns the number of relays in the lottery.
func (l *Lottery) Len() int {
	return len(l.relays)
}

// Select draws one relay using entropy (typically a VRF output) as the
// source of randomness. A zero-weight lottery (all relays weight 0) falls
// back to uniform selection over entropy so a cold-started network with no
// reputation history can still route.
func (l *Lottery) Select(entropy [8]byte) RelayDescriptor {
	u64 := beUint64(entropy)
	if l.total <= 0 {
		idx := int(u64 % uint64(len(l.relays)))
		return l.relays[idx]
	}
	target := (float64(u64) / (float64(1<<63) * 2)) * l.total
	idx := sort.Search(len(l.cumulative), func(i int) bool {
		return l.cumulative[i] >= target
	})
	if idx >= len(l.relays) {
		idx = len(l.relays) - 1
	}
	return l.relays[idx]
}

// HopProof binds one hop's selection to a verifiable VRF output, so any
// observer holding the lottery snapshot and the path seed can confirm the
// hop was drawn honestly rather than hand-picked.
type HopProof struct {
	Relay  RelayDescriptor
	Output vrf.Output
	Proof  vrf.Proof
}

// maxAttemptsPerHop sets Build's draw budget for collisions with
// already-selected relays: hopCount*maxAttemptsPerHop draws in total,
// shared across all hops, mirroring path_selection.RouteFactory.Build's
// fixed retry budget for an unsatisfiable constraint.
const maxAttemptsPerHop = 4

// Build selects hopCount distinct relays for a path, seeded by sk and seed.
// Hop i's entropy is drawn from vrf.Eval(sk, LotteryDomain, H(seed || i ||
// attempt)), giving each hop (and each retry) an independent, verifiable
// draw. Build fails with ErrInsufficientRelays if it cannot find hopCount
// distinct relays within hopCount*maxAttemptsPerHop total draws.
func (l *Lottery) Build(sk ed25519.PrivateKey, seed []byte, hopCount int) ([]HopProof, error) {
	if hopCount == 0 {
		return []HopProof{}, nil
	}
	if hopCount < 0 {
		return nil, ErrInsufficientRelays
	}
	if l.Len() < hopCount {
		return nil, ErrInsufficientRelays
	}

	chosen := make([]HopProof, 0, hopCount)
	used := make(map[[16]byte]bool, hopCount)
	draws := 0

	for hop := 0; hop < hopCount; hop++ {
		found := false
		for attempt := 0; !found; attempt++ {
			if draws == hopCount*maxAttemptsPerHop {
				return nil, ErrInsufficientRelays
			}
			draws++
			input := seedFor(seed, hop, attempt)
			out, proof := vrf.Eval(sk, vrf.LotteryDomain, input)
			var entropy [8]byte
			copy(entropy[:], out[:8])
			d := l.Select(entropy)
			if used[d.ID] {
				continue
			}
			used[d.ID] = true
			chosen = append(chosen, HopProof{Relay: d, Output: out, Proof: proof})
			found = true
		}
	}
	return chosen, nil
}

// seedFor derives the per-hop, per-attempt VRF input from the path seed.
func seedFor(seed []byte, hop, attempt int) []byte {
	buf := make([]byte, 0, len(seed)+2)
	buf = append(buf, seed...)
	buf = append(buf, byte(hop), byte(attempt))
	return crypto.SHA256(buf)
}

func beUint64(b [8]byte) uint64 {
	var u uint64
	for _, c := range b {
		u = u<<8 | uint64(c)
	}
	return u
}
