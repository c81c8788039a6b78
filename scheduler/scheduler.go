// scheduler.go - priority queue backed delay scheduler
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

// Package scheduler holds VRF-delayed packets until their release_time,
// then hands them to an egress callback. It is the mix strategy: without
// it, arrival order would leak a timing correlation between a node's
// ingress and egress.
package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/katzenpost/core/log"
	"github.com/katzenpost/core/monotime"
	"github.com/katzenpost/core/queue"
	"github.com/op/go-logging"
)

// Task is one delayed unit of work: an opaque frame plus the address it
// should be forwarded to once its delay elapses.
type Task struct {
	Frame   []byte
	NextHop [18]byte
	Seq     uint64
}

// DelayScheduler holds tasks in a min-priority-queue keyed by
// (release_time, sequence) and invokes release for each once its time
// comes, in strict release-time order.
type DelayScheduler struct {
	sync.RWMutex

	queue   *queue.PriorityQueue
	release func(Task)
	timer   *time.Timer
	log     *logging.Logger
	seq     uint64
}

// New creates a DelayScheduler that calls release for each task once its
// delay has elapsed.
func New(release func(Task), logBackend *log.Backend, name string) *DelayScheduler {
	s := DelayScheduler{
		queue:   queue.New(),
		release: release,
		log:     logBackend.GetLogger(fmt.Sprintf("scheduler-%s", name)),
	}
	return &s
}

func (s *DelayScheduler) pop() *queue.Entry {
	s.Lock()
	defer s.Unlock()
	return s.queue.Pop()
}

func (s *DelayScheduler) run() {
	entry := s.pop()
	if entry == nil {
		return
	}
	task, ok := entry.Value.(Task)
	if ok {
		s.release(task)
	}
	s.schedule()
}

func (s *DelayScheduler) peek() *queue.Entry {
	s.RLock()
	defer s.RUnlock()
	return s.queue.Peek()
}

// schedule arranges for the earliest-release task to run, comparing its
// priority (a monotime deadline) against the current monotime.
func (s *DelayScheduler) schedule() {
	entry := s.peek()
	if entry == nil {
		return
	}
	now := monotime.Now()
	if time.Duration(entry.Priority) <= now {
		go s.run()
		return
	}
	s.Lock()
	defer s.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(time.Duration(entry.Priority)-now, s.run)
}

func (s *DelayScheduler) enqueue(priority uint64, task Task) {
	s.Lock()
	defer s.Unlock()
	s.queue.Enqueue(priority, task)
}

// Add schedules task for release after delay. Priority is the monotime
// deadline, not the sequence alone: two tasks scheduled for the identical
// deadline still release in the order Add was called, since Seq is
// monotonically increasing and queue.PriorityQueue preserves insertion
// order among equal priorities.
func (s *DelayScheduler) Add(delay time.Duration, nextHop [18]byte, frame []byte) {
	seq := atomic.AddUint64(&s.seq, 1)
	task := Task{Frame: frame, NextHop: nextHop, Seq: seq}
	now := monotime.Now()
	priority := now + delay
	s.enqueue(uint64(priority), task)
	s.schedule()
}

// Len reports the number of tasks currently queued, for metrics.
func (s *DelayScheduler) Len() int {
	s.RLock()
	defer s.RUnlock()
	return s.queue.Len()
}

// Shutdown stops the pending release timer without draining the queue; any
// tasks still queued are discarded.
func (s *DelayScheduler) Shutdown() {
	s.Lock()
	defer s.Unlock()
	if s.timer != nil {
		if !s.timer.Stop() {
			select {
			case <-s.timer.C:
			default:
			}
		}
	}
}
