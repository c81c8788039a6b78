// epoch.go - epoch-scoped replay set rotation.
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

package replay

import (
	"sync/atomic"
	"time"
)

// epochSetHolder lets EpochGuard swap *Set atomically without locking
// readers out during rotation.
type epochSetHolder struct {
	v atomic.Value // holds *Set
}

// EpochGuard owns the currently active replay Set; each Rotate call replaces
// it with a fresh, empty Set. EpochGuard runs no timer of its own: the
// caller calls Rotate once every window. Per spec.md's Open Question resolution,
// replay tags never persist across a rotation or a process restart: cold
// start and epoch rotation both begin from an empty set.
type EpochGuard struct {
	holder epochSetHolder
	window time.Duration
	epoch  uint64
}

// NewEpochGuard creates an EpochGuard whose replay set resets every window
// (default 3600s per §4.3).
func NewEpochGuard(window time.Duration) *EpochGuard {
	g := &EpochGuard{window: window}
	g.holder.v.Store(New())
	return g
}

// Current returns the replay set for the active epoch.
func (g *EpochGuard) Current() *Set {
	return g.holder.v.Load().(*Set)
}

// Rotate discards the current replay set and starts a fresh one, as happens
// when a node's key epoch expires (§3 "Key epoch" lifecycle).
func (g *EpochGuard) Rotate() {
	g.holder.v.Store(New())
	atomic.AddUint64(&g.epoch, 1)
}

// EpochCount returns the number of rotations performed since creation,
// useful for tests and metrics.
func (g *EpochGuard) EpochCount() uint64 {
	return atomic.LoadUint64(&g.epoch)
}

// Window returns the configured epoch length.
func (g *EpochGuard) Window() time.Duration {
	return g.window
}
