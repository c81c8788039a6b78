// pipeline.go - bounded ingress queue fanned out across a worker pool.
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

// Package pipeline implements the mixnode's batched ingress-to-egress
// processing path: a buffer pool, a bounded ingress queue, a worker pool
// running sphinx.Process over dequeued frames, a token-bucket egress rate
// limiter, and the dispatcher that drains the delay scheduler's releases
// through it.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/katzenpost/core/log"
	"github.com/katzenpost/core/worker"
	"github.com/op/go-logging"

	"github.com/anonmix/mixnode/constants"
	"github.com/anonmix/mixnode/sphinx"
)

// Processor turns a raw ingress frame into a processing outcome. In
// production this is sphinx.Process closed over the node's private key and
// replay set; tests supply a stub.
type Processor func(frame []byte) (sphinx.Outcome, error)

// Pipeline fans a bounded ingress queue out across a fixed worker pool.
// Each worker recovers from a panic raised by Processor rather than taking
// the whole node down with it, counting the recovery so an operator can
// see a misbehaving processor surface in metrics instead of a silent
// crash loop.
type Pipeline struct {
	worker.Worker

	pool       *BufferPool
	ingress    *IngressQueue
	process    Processor
	numWorkers int
	batchSize  int
	log        *logging.Logger

	restarts uint64

	onForward func(sphinx.Outcome)
	onDeliver func(sphinx.Outcome)
	onDrop    func(reason string)

	onPoolHit  func()
	onPoolMiss func()
	onLatency  func(ms float64)
}

// New builds a Pipeline. poolSize, queueDepth, numWorkers, and batchSize
// are typically constants.DefaultPoolSize, constants.DefaultMaxQueueDepth,
// constants.DefaultWorkerThreads, and constants.DefaultBatchSize.
func New(poolSize, queueDepth, numWorkers, batchSize int, process Processor, logBackend *log.Backend, name string) *Pipeline {
	return &Pipeline{
		pool:       NewBufferPool(poolSize),
		ingress:    NewIngressQueue(queueDepth),
		process:    process,
		numWorkers: numWorkers,
		batchSize:  batchSize,
		log:        logBackend.GetLogger(fmt.Sprintf("pipeline-%s", name)),
	}
}

// OnForward sets the callback invoked for every KindForward outcome.
func (p *Pipeline) OnForward(fn func(sphinx.Outcome)) { p.onForward = fn }

// OnDeliver sets the callback invoked for every KindDeliver outcome.
func (p *Pipeline) OnDeliver(fn func(sphinx.Outcome)) { p.onDeliver = fn }

// OnDrop sets the callback invoked whenever a frame is dropped, named by
// reason (either a sphinx.DropReason or a pipeline DropReason string).
func (p *Pipeline) OnDrop(fn func(reason string)) { p.onDrop = fn }

// OnPoolHit sets the callback invoked whenever AcquireBuffer is satisfied
// without blocking.
func (p *Pipeline) OnPoolHit(fn func()) { p.onPoolHit = fn }

// OnPoolMiss sets the callback invoked whenever AcquireBuffer has to wait
// for a buffer to free up (including the case where it never does and ctx
// expires).
func (p *Pipeline) OnPoolMiss(fn func()) { p.onPoolMiss = fn }

// OnLatency sets the callback invoked with the processing latency, in
// milliseconds, of every frame that reaches Processor.
func (p *Pipeline) OnLatency(fn func(ms float64)) { p.onLatency = fn }

// Start launches numWorkers worker goroutines pulling from the ingress
// queue.
func (p *Pipeline) Start() {
	for i := 0; i < p.numWorkers; i++ {
		p.Go(p.workerLoop)
	}
}

// AcquireBuffer reserves one frame buffer from the pool for an ingress
// acceptor to read a packet into, blocking until one is free or ctx is
// done. A buffer available without blocking counts as a pool hit for
// pool_hit_rate; one that requires waiting (whether or not ctx eventually
// expires) counts as a miss.
func (p *Pipeline) AcquireBuffer(ctx context.Context) (*[constants.PacketLength]byte, error) {
	select {
	case buf := <-p.pool.free:
		if p.onPoolHit != nil {
			p.onPoolHit()
		}
		return buf, nil
	default:
	}
	if p.onPoolMiss != nil {
		p.onPoolMiss()
	}
	return p.pool.Acquire(ctx)
}

// ReleaseBuffer returns a buffer to the pool. Called once a frame's
// outcome has been fully handled (forwarded, delivered, or dropped).
func (p *Pipeline) ReleaseBuffer(buf *[constants.PacketLength]byte) {
	p.pool.Release(buf)
}

// releasePooled returns frame to the buffer pool once a worker is done
// with it, provided frame is exactly one PacketLength buffer — the shape
// every real ingress frame has, since Ingress only ever submits a slice
// acquired from this same pool. Processor.process always finishes copying
// whatever it needs out of frame before returning (sphinx.ParsePacket
// copies into its own array), so the buffer is safe to recycle the
// instant processOne is done with it, regardless of outcome or panic.
// Shorter test fixtures never came from the pool and are left alone.
func (p *Pipeline) releasePooled(frame []byte) {
	if len(frame) != constants.PacketLength {
		return
	}
	p.pool.Release((*[constants.PacketLength]byte)(frame))
}

// Submit enqueues frame for processing, reporting ErrQueueFull immediately
// (load-shedding, never blocking) rather than applying backpressure to the
// caller.
func (p *Pipeline) Submit(frame []byte) error {
	if err := p.ingress.TryEnqueue(frame); err != nil {
		if p.onDrop != nil {
			p.onDrop(QueueFull.String())
		}
		return err
	}
	return nil
}

// Restarts reports the number of times a worker has recovered from a
// Processor panic, for metrics.
func (p *Pipeline) Restarts() uint64 {
	return atomic.LoadUint64(&p.restarts)
}

// QueueDepth reports the number of frames currently queued, for metrics.
func (p *Pipeline) QueueDepth() int {
	return p.ingress.Len()
}

// PoolFree reports the number of buffers currently free, for metrics.
func (p *Pipeline) PoolFree() int {
	return p.pool.Len()
}

// Shutdown closes the ingress queue (waking any blocked worker) and halts
// all worker goroutines, waiting for them to exit.
func (p *Pipeline) Shutdown() {
	p.ingress.Close()
	p.Halt()
}

func (p *Pipeline) workerLoop() {
	for {
		batch, err := p.ingress.DequeueBatch(p.batchSize)
		if err != nil {
			return
		}
		for _, frame := range batch {
			p.processOne(frame)
		}
	}
}

func (p *Pipeline) processOne(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&p.restarts, 1)
			p.log.Errorf("worker recovered from processor panic: %v", r)
			if p.onDrop != nil {
				p.onDrop(WorkerPanic.String())
			}
		}
		p.releasePooled(frame)
	}()

	start := time.Now()
	outcome, err := p.process(frame)
	if p.onLatency != nil {
		p.onLatency(float64(time.Since(start)) / float64(time.Millisecond))
	}
	if err != nil {
		p.log.Debugf("processor error: %s", err)
		if p.onDrop != nil {
			p.onDrop(sphinx.DropMalformed.String())
		}
		return
	}

	switch outcome.Kind {
	case sphinx.KindForward:
		if p.onForward != nil {
			p.onForward(outcome)
		}
	case sphinx.KindDeliver:
		if p.onDeliver != nil {
			p.onDeliver(outcome)
		}
	case sphinx.KindDrop:
		if p.onDrop != nil {
			p.onDrop(outcome.Reason.String())
		}
	}
}
