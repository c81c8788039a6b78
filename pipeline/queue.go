// queue.go - bounded ingress queue.
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
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrQueueFull is returned by TryEnqueue when the queue is already at
// capacity.
var ErrQueueFull = errors.New("pipeline: ingress queue full")

// ErrQueueClosed is returned by TryEnqueue or Dequeue after Close.
var ErrQueueClosed = errors.New("pipeline: ingress queue closed")

// IngressQueue is a depth-bounded FIFO of raw ingress frames, backed by
// eapache/queue's amortized-O(1) ring buffer. Unlike the teacher's
// unbounded ARQ send queue, an arriving mixnode packet is never retried on
// failure: a full queue sheds load immediately rather than applying
// backpressure to the network socket.
type IngressQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	q        *queue.Queue
	capacity int
	closed   bool
}

// NewIngressQueue returns an empty queue bounded at capacity entries.
// capacity is typically constants.DefaultMaxQueueDepth.
func NewIngressQueue(capacity int) *IngressQueue {
	iq := &IngressQueue{q: queue.New(), capacity: capacity}
	iq.notEmpty = sync.NewCond(&iq.mu)
	return iq
}

// TryEnqueue appends frame without blocking, failing immediately with
// ErrQueueFull if the queue is at capacity.
func (iq *IngressQueue) TryEnqueue(frame []byte) error {
	iq.mu.Lock()
	defer iq.mu.Unlock()
	if iq.closed {
		return ErrQueueClosed
	}
	if iq.q.Length() >= iq.capacity {
		return ErrQueueFull
	}
	iq.q.Add(frame)
	iq.notEmpty.Signal()
	return nil
}

// DequeueBatch blocks until at least one frame is queued (or the queue is
// closed), then drains up to max frames in FIFO order.
func (iq *IngressQueue) DequeueBatch(max int) ([][]byte, error) {
	iq.mu.Lock()
	defer iq.mu.Unlock()
	for iq.q.Length() == 0 && !iq.closed {
		iq.notEmpty.Wait()
	}
	if iq.q.Length() == 0 && iq.closed {
		return nil, ErrQueueClosed
	}
	n := iq.q.Length()
	if n > max {
		n = max
	}
	batch := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, iq.q.Remove().([]byte))
	}
	return batch, nil
}

// Len reports the number of frames currently queued, for metrics.
func (iq *IngressQueue) Len() int {
	iq.mu.Lock()
	defer iq.mu.Unlock()
	return iq.q.Length()
}

// Close marks the queue closed and wakes any blocked DequeueBatch callers.
// Frames already queued are still returned by subsequent DequeueBatch calls
// until drained.
func (iq *IngressQueue) Close() {
	iq.mu.Lock()
	defer iq.mu.Unlock()
	iq.closed = true
	iq.notEmpty.Broadcast()
}
