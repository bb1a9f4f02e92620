// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package driver

import (
	"sync"
	"time"

	"github.com/katzenpost/anodr/core/monotime"
	"github.com/katzenpost/anodr/core/queue"
	"github.com/katzenpost/anodr/core/worker"
	"github.com/katzenpost/anodr/router"
)

// TimerQueue hands router timers to a callback once they are due.  The
// callback runs on the queue's worker and must not block for long.
type TimerQueue struct {
	sync.Mutex
	worker.Worker

	priq   *queue.PriorityQueue
	wakeCh chan struct{}
	fireFn func(*router.Timer)
}

// NewTimerQueue creates a TimerQueue and starts its worker.
func NewTimerQueue(fireFn func(*router.Timer)) *TimerQueue {
	q := &TimerQueue{
		priq:   queue.New(),
		wakeCh: make(chan struct{}, 1),
		fireFn: fireFn,
	}
	q.Go(q.worker)
	return q
}

// Push schedules t to fire after delay.
func (q *TimerQueue) Push(delay time.Duration, t *router.Timer) {
	deadline := monotime.Now() + delay

	q.Lock()
	q.priq.Enqueue(uint64(deadline), t)
	q.Unlock()

	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

// Len returns the number of pending timers.
func (q *TimerQueue) Len() int {
	q.Lock()
	defer q.Unlock()
	return q.priq.Len()
}

// due pops the next due timer, or returns how long until one is.  The
// wait is negative if the queue is empty.
func (q *TimerQueue) due() (*router.Timer, time.Duration) {
	q.Lock()
	defer q.Unlock()

	e := q.priq.Peek()
	if e == nil {
		return nil, -1
	}
	if timeLeft := time.Duration(e.Priority) - monotime.Now(); timeLeft > 0 {
		return nil, timeLeft
	}
	q.priq.Dequeue()
	return e.Value.(*router.Timer), 0
}

func (q *TimerQueue) worker() {
	for {
		t, wait := q.due()
		if t != nil {
			q.fireFn(t)
			continue
		}

		var c <-chan time.Time
		if wait > 0 {
			c = time.After(wait)
		}
		select {
		case <-q.HaltCh():
			return
		case <-c:
		case <-q.wakeCh:
		}
	}
}
