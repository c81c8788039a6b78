// egress.go - egress send path with an address-resolution cache.
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

package transport

import (
	"errors"
	"net"
	"sync"
)

// ErrResolveFailed wraps a net.ResolveUDPAddr failure for a cache miss.
var ErrResolveFailed = errors.New("transport: failed to resolve next-hop address")

// Egress sends outgoing Sphinx frames over a shared PacketConn, caching
// the *net.UDPAddr for each 18-byte wire address the way session_pool.
// SessionPool caches a wire session per account identity, since
// resolving and dialing on every single packet would dominate the hop
// latency budget.
type Egress struct {
	conn net.PacketConn

	mu    sync.Mutex
	cache map[[18]byte]*net.UDPAddr
}

// NewEgress wraps conn (typically the same PacketConn bound by Ingress,
// or a dedicated send-only socket) for outgoing frames.
func NewEgress(conn net.PacketConn) *Egress {
	return &Egress{
		conn:  conn,
		cache: make(map[[18]byte]*net.UDPAddr),
	}
}

// Send writes frame to nextHop, resolving and caching the address on
// first use.
func (e *Egress) Send(nextHop [18]byte, frame []byte) error {
	addr := e.resolve(nextHop)
	_, err := e.conn.WriteTo(frame, addr)
	return err
}

func (e *Egress) resolve(nextHop [18]byte) *net.UDPAddr {
	e.mu.Lock()
	defer e.mu.Unlock()

	if addr, ok := e.cache[nextHop]; ok {
		return addr
	}
	addr := DecodeAddr(nextHop)
	e.cache[nextHop] = addr
	return addr
}

// Forget evicts a cached address, used when a relay's descriptor
// changes address between epochs.
func (e *Egress) Forget(nextHop [18]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, nextHop)
}

// Len reports the number of cached addresses, for metrics and tests.
func (e *Egress) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}
