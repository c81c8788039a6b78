// pool.go - fixed-size buffer pool for packet frames.
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
	"context"
	"errors"

	"github.com/anonmix/mixnode/constants"
)

// ErrPoolExhausted is returned by Acquire when no buffer becomes free before
// the context is done.
var ErrPoolExhausted = errors.New("pipeline: buffer pool exhausted")

// BufferPool is a fixed-capacity free list of fixed-size packet frames,
// generalizing the teacher's identity-keyed SessionPool into a counting
// semaphore over anonymous reusable buffers: Acquire blocks (up to the
// caller's context deadline) instead of erroring on a missing key, and
// Release returns a buffer to the free list instead of discarding it.
type BufferPool struct {
	free chan *[constants.PacketLength]byte
}

// NewBufferPool allocates size frames up front and returns a pool backed by
// them. size is typically constants.DefaultPoolSize.
func NewBufferPool(size int) *BufferPool {
	p := &BufferPool{free: make(chan *[constants.PacketLength]byte, size)}
	for i := 0; i < size; i++ {
		p.free <- new([constants.PacketLength]byte)
	}
	return p
}

// Acquire removes one buffer from the free list, blocking until one is
// available or ctx is done.
func (p *BufferPool) Acquire(ctx context.Context) (*[constants.PacketLength]byte, error) {
	select {
	case buf := <-p.free:
		return buf, nil
	case <-ctx.Done():
		return nil, ErrPoolExhausted
	}
}

// Release zeroes buf and returns it to the free list. Releasing a buffer
// not obtained from this pool, or releasing the same buffer twice, is a
// caller bug and will deadlock the extra slot rather than corrupt state.
func (p *BufferPool) Release(buf *[constants.PacketLength]byte) {
	for i := range buf {
		buf[i] = 0
	}
	p.free <- buf
}

// Len reports the number of buffers currently free, for metrics.
func (p *BufferPool) Len() int {
	return len(p.free)
}

// Cap reports the pool's total capacity.
func (p *BufferPool) Cap() int {
	return cap(p.free)
}
