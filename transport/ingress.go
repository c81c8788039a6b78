// ingress.go - packet-oriented ingress acceptor.
// Copyright (C) 2017  David Stainton, Yawning Angel.
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
	"context"
	"net"
	"time"

	"github.com/katzenpost/core/log"
	"github.com/katzenpost/core/worker"
	"github.com/op/go-logging"

	"github.com/anonmix/mixnode/constants"
)

// FrameHandler is invoked once per well-formed ingress datagram. buf is a
// frame freshly acquired from the BufferPool; Ingress neither reuses nor
// releases it after the call, so the handler owns it and is responsible
// for returning it to the pool.
type FrameHandler func(buf []byte, from net.Addr)

// BufferPool is the subset of pipeline.Pipeline's buffer pool Ingress
// needs: one reusable PacketLength buffer per in-flight datagram, instead
// of an allocation per packet on the hot path.
type BufferPool interface {
	AcquireBuffer(ctx context.Context) (*[constants.PacketLength]byte, error)
}

// Ingress accepts fixed-size Sphinx frames off a packet-oriented
// transport, generalizing listener.go's TCP accept loop (graceful halt
// via an embedded worker, one log line per bind/unbind) to a single
// PacketConn read loop, since every mixnode frame is the same size and
// needs no connection or length-prefix framing.
type Ingress struct {
	worker.Worker

	conn            net.PacketConn
	pool            BufferPool
	acquireTimeout  time.Duration
	handler         FrameHandler
	onPoolExhausted func()
	log             *logging.Logger

	scratch [constants.PacketLength + 1]byte // +1 to detect oversize datagrams
}

// NewIngress binds addr (e.g. "0.0.0.0:9000") as a UDP PacketConn and
// returns an Ingress ready to Start. pool supplies the reusable frame
// buffers a read is copied into; acquireTimeout bounds how long a read
// will wait for one to free up before the datagram is dropped as
// pool-exhausted.
func NewIngress(addr string, pool BufferPool, acquireTimeout time.Duration, handler FrameHandler, logBackend *log.Backend) (*Ingress, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Ingress{
		conn:           conn,
		pool:           pool,
		acquireTimeout: acquireTimeout,
		handler:        handler,
		log:            logBackend.GetLogger("ingress"),
	}, nil
}

// OnPoolExhausted sets the callback invoked whenever a well-formed
// datagram arrives but no pool buffer frees up within acquireTimeout.
func (i *Ingress) OnPoolExhausted(fn func()) { i.onPoolExhausted = fn }

// Start launches the accept loop.
func (i *Ingress) Start() {
	i.Go(i.worker)
}

// Conn returns the underlying PacketConn, so an Egress can reuse the same
// bound socket for outgoing frames instead of opening a second one.
func (i *Ingress) Conn() net.PacketConn {
	return i.conn
}

func (i *Ingress) worker() {
	i.log.Noticef("listening on: %v", i.conn.LocalAddr())
	defer i.log.Noticef("stopped listening on: %v", i.conn.LocalAddr())

	for {
		select {
		case <-i.HaltCh():
			return
		default:
		}

		n, from, err := i.conn.ReadFrom(i.scratch[:])
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			return
		}
		if n != constants.PacketLength {
			i.log.Debugf("dropping malformed datagram of length %d from %v", n, from)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), i.acquireTimeout)
		buf, err := i.pool.AcquireBuffer(ctx)
		cancel()
		if err != nil {
			i.log.Debugf("pool exhausted, dropping datagram from %v", from)
			if i.onPoolExhausted != nil {
				i.onPoolExhausted()
			}
			continue
		}

		copy(buf[:], i.scratch[:n])
		i.handler(buf[:], from)
	}
}

// Shutdown closes the socket and waits for the accept loop to exit.
func (i *Ingress) Shutdown() {
	i.conn.Close()
	i.Halt()
}
