// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package sim is a deterministic discrete-event network of ANODR nodes.
package sim

import (
	"time"

	"gitlab.com/yawning/avl.git"
)

type event struct {
	at  time.Duration
	seq uint64
	fn  func()
}

// Scheduler is a virtual clock with an ordered event queue.  Events due at
// the same instant run in the order they were scheduled.
type Scheduler struct {
	now    time.Duration
	seq    uint64
	events *avl.Tree
}

// NewScheduler returns a Scheduler at time zero.
func NewScheduler() *Scheduler {
	return &Scheduler{
		events: avl.New(func(a, b interface{}) int {
			ea, eb := a.(*event), b.(*event)
			switch {
			case ea.at < eb.at:
				return -1
			case ea.at > eb.at:
				return 1
			case ea.seq < eb.seq:
				return -1
			case ea.seq > eb.seq:
				return 1
			default:
				return 0
			}
		}),
	}
}

// Now returns the virtual time.
func (s *Scheduler) Now() time.Duration {
	return s.now
}

// At runs fn after delay.
func (s *Scheduler) At(delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	s.seq++
	s.events.Insert(&event{
		at:  s.now + delay,
		seq: s.seq,
		fn:  fn,
	})
}

// Len returns the number of pending events.
func (s *Scheduler) Len() int {
	return s.events.Len()
}

// Step runs the next event, and returns false if there was none.
func (s *Scheduler) Step() bool {
	n := s.events.First()
	if n == nil {
		return false
	}
	s.events.Remove(n)
	ev := n.Value.(*event)
	s.now = ev.at
	ev.fn()
	return true
}

// RunUntil runs every event due up to t, and advances the clock to t.
func (s *Scheduler) RunUntil(t time.Duration) {
	for {
		n := s.events.First()
		if n == nil || n.Value.(*event).at > t {
			break
		}
		s.Step()
	}
	if t > s.now {
		s.now = t
	}
}

// RunFor runs the events due in the next d.
func (s *Scheduler) RunFor(d time.Duration) {
	s.RunUntil(s.now + d)
}
