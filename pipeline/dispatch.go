// dispatch.go - rate-limited egress dispatcher.
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
	"fmt"
	"time"

	"github.com/katzenpost/core/log"
	"github.com/katzenpost/core/worker"
	"github.com/op/go-logging"
	"gopkg.in/eapache/channels.v1"
)

// EgressFrame is one frame released by the delay scheduler, ready to send
// once it clears the rate limiter.
type EgressFrame struct {
	NextHop [18]byte
	Frame   []byte
}

// SendFunc actually puts a frame on the wire to NextHop.
type SendFunc func(nextHop [18]byte, frame []byte) error

// EgressDispatcher decouples the scheduler's release goroutine from the
// rate-limited send path using an unbounded channel, so a scheduler timer
// firing never blocks on network I/O: it only ever blocks briefly pushing
// into the channel.
type EgressDispatcher struct {
	worker.Worker

	ch      *channels.InfiniteChannel
	limiter *RateLimiter
	send    SendFunc
	timeout time.Duration
	log     *logging.Logger

	onRateLimited func(EgressFrame)
	onSendError   func(EgressFrame, error)
	onSendSuccess func(EgressFrame)
}

// NewEgressDispatcher builds a dispatcher that pulls frames through limiter
// before calling send, waiting up to timeout (typically
// config.Config.EgressTimeout()) for a token before reporting the frame
// rate-limited.
func NewEgressDispatcher(limiter *RateLimiter, send SendFunc, timeout time.Duration, logBackend *log.Backend, name string) *EgressDispatcher {
	d := &EgressDispatcher{
		ch:      channels.NewInfiniteChannel(),
		limiter: limiter,
		send:    send,
		timeout: timeout,
		log:     logBackend.GetLogger(fmt.Sprintf("dispatcher-%s", name)),
	}
	return d
}

// OnRateLimited sets the callback invoked when the egress timeout elapses
// without a token becoming available (the RateLimited drop reason).
func (d *EgressDispatcher) OnRateLimited(fn func(EgressFrame)) {
	d.onRateLimited = fn
}

// OnSendError sets the callback invoked when send returns an error.
func (d *EgressDispatcher) OnSendError(fn func(EgressFrame, error)) {
	d.onSendError = fn
}

// OnSendSuccess sets the callback invoked when send returns nil, letting a
// caller track per-relay delivery outcomes (e.g. reputation scoring).
func (d *EgressDispatcher) OnSendSuccess(fn func(EgressFrame)) {
	d.onSendSuccess = fn
}

// Start launches the dispatch worker.
func (d *EgressDispatcher) Start() {
	d.Go(d.worker)
}

// Submit enqueues frame for dispatch. Never blocks: the channel is
// unbounded, so a scheduler release never stalls on egress.
func (d *EgressDispatcher) Submit(f EgressFrame) {
	d.ch.In() <- f
}

func (d *EgressDispatcher) worker() {
	out := d.ch.Out()
	for {
		select {
		case <-d.HaltCh():
			return
		case v, ok := <-out:
			if !ok {
				return
			}
			f := v.(EgressFrame)
			if !d.limiter.Wait(d.timeout) {
				if d.onRateLimited != nil {
					d.onRateLimited(f)
				}
				continue
			}
			if err := d.send(f.NextHop, f.Frame); err != nil {
				d.log.Errorf("send to next hop failed: %s", err)
				if d.onSendError != nil {
					d.onSendError(f, err)
				}
			} else if d.onSendSuccess != nil {
				d.onSendSuccess(f)
			}
		}
	}
}

// Shutdown stops accepting new work and halts the dispatch worker,
// discarding anything still queued in the infinite channel.
func (d *EgressDispatcher) Shutdown() {
	d.ch.Close()
	d.Halt()
}
