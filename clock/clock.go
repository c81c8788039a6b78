// clock.go - injectable epoch clock for replay-window rotation.
// Copyright (C) 2017  David Stainton.
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

// Package clock provides an injectable epoch clock, generalizing the
// original Katzenpost-PKI-epoch type to an arbitrary period so it can
// drive this node's replay-window rotation instead of a fixed directory
// epoch length. clockwork.Clock keeps the rotation loop's timing
// substitutable under test, the same way the original type let callers
// swap in a FakeClock instead of sleeping real wall-clock time.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock tracks elapsed periods of a fixed length since it was created.
type Clock struct {
	c      clockwork.Clock
	start  time.Time
	period time.Duration
}

// New returns a Clock that counts period-length epochs starting now, as
// measured by c.
func New(c clockwork.Clock, period time.Duration) *Clock {
	return &Clock{c: c, start: c.Now(), period: period}
}

// Now returns the current epoch number (periods elapsed since New), the
// time elapsed within that epoch, and the time remaining until the next.
func (c *Clock) Now() (current uint64, elapsed, till time.Duration) {
	since := c.c.Since(c.start)
	if since < 0 {
		since = 0
	}
	current = uint64(since / c.period)
	base := time.Duration(current) * c.period
	elapsed = since - base
	till = c.period - elapsed
	return
}

// Sleeper returns a channel that fires once, one period from now on c's
// clock; a rotation loop calls it again on every iteration to wait for the
// next period.
func (c *Clock) Sleeper() <-chan time.Time {
	return c.c.After(c.period)
}
