// replay.go - per-epoch Bloom-filter replay tag set.
// Copyright (C) 2017  Yawning Angel.
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

// Package replay implements a lock-free, probabilistic replay-tag set
// scoped to a single key epoch. It is a k=4 Bloom filter over a 1 MiB
// bit-vector, sized for a false-positive rate under 1e-6 at the epoch's
// expected packet volume; bit positions are derived from two independent
// SipHash-2-4 digests combined via double hashing (Kirsch-Mitzenmacher),
// avoiding the cost of four independent hash functions.
package replay

import (
	"sync/atomic"

	"github.com/dchest/siphash"
)

const (
	// bitmapBytes is the size of the bit-vector (1 MiB).
	bitmapBytes = 1 << 20

	// bitmapBits is the number of addressable bits.
	bitmapBits = bitmapBytes * 8

	// hashCount is k, the number of bit positions set per insert.
	hashCount = 4

	// wordBits is the width of one bitmap word.
	wordBits = 64
)

// siphash keys. Fixed, process-local constants: the replay set's security
// goal is collision-avoidance for capacity planning, not keyed secrecy (an
// adversary who can already forge packets gains nothing from predicting
// bloom-filter bit positions).
const (
	sipK0 = 0x6d69786e6f646520 // "mixnode "
	sipK1 = 0x7265706c61790000 // "replay\x00\x00"
)

// Set is a per-epoch replay tag set. The zero value is not usable; use New.
type Set struct {
	words [bitmapBits / wordBits]uint64
}

// New returns a fresh, empty replay set for one key epoch.
func New() *Set {
	return &Set{}
}

// positions derives the k bit positions for tag using double hashing:
// h_i(tag) = h1(tag) + i*h2(tag) mod bitmapBits, i in [0, hashCount).
func positions(tag []byte) [hashCount]uint64 {
	h1 := siphash.Hash(sipK0, sipK1, tag)
	h2 := siphash.Hash(sipK1, sipK0, tag)
	// h2 must be odd to guarantee it's coprime with the power-of-two
	// bitmapBits, so double hashing visits hashCount distinct slots.
	h2 |= 1

	var out [hashCount]uint64
	for i := uint64(0); i < hashCount; i++ {
		out[i] = (h1 + i*h2) % bitmapBits
	}
	return out
}

// Insert records tag for future queries and reports whether it was new.
// It returns true on first insertion (not a replay),
// false if the tag (or a colliding tag, per the filter's false-positive
// rate) was already present. Insert is idempotent and safe for concurrent
// use by multiple pipeline workers.
func (s *Set) Insert(tag []byte) bool {
	pos := positions(tag)

	allSet := true
	for _, bit := range pos {
		word, mask := s.wordAndMask(bit)
		prev := atomic.LoadUint64(&s.words[word])
		if prev&mask == 0 {
			allSet = false
		}
	}
	if allSet {
		return false
	}

	for _, bit := range pos {
		word, mask := s.wordAndMask(bit)
		orUint64(&s.words[word], mask)
	}
	return true
}

// Contains reports whether tag is (probably) present, without inserting it.
func (s *Set) Contains(tag []byte) bool {
	for _, bit := range positions(tag) {
		word, mask := s.wordAndMask(bit)
		if atomic.LoadUint64(&s.words[word])&mask == 0 {
			return false
		}
	}
	return true
}

func (s *Set) wordAndMask(bit uint64) (int, uint64) {
	return int(bit / wordBits), uint64(1) << (bit % wordBits)
}

// orUint64 atomically ORs mask into *addr via a compare-and-swap loop;
// sync/atomic has no native OrUint64 prior to Go 1.23, and a CAS loop keeps
// this buildable across Go 1.21+ toolchains.
func orUint64(addr *uint64, mask uint64) {
	for {
		old := atomic.LoadUint64(addr)
		if old&mask == mask {
			return
		}
		if atomic.CompareAndSwapUint64(addr, old, old|mask) {
			return
		}
	}
}
