// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package worker manages the lifetime of background goroutines.
package worker

import (
	"sync"
	"time"
)

// Worker is a set of goroutines halted together.  The zero value is ready
// to use.
type Worker struct {
	sync.WaitGroup
	initOnce sync.Once
	haltOnce sync.Once

	haltCh chan interface{}
}

func (w *Worker) init() {
	w.haltCh = make(chan interface{})
}

// Go runs fn on a new goroutine.  fn must return once HaltCh is closed.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt closes HaltCh and waits for every goroutine to return.  It may be
// called more than once.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	w.haltOnce.Do(func() { close(w.haltCh) })
	w.Wait()
}

// HaltCh returns the channel closed by Halt.
func (w *Worker) HaltCh() <-chan interface{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

// IsHalted returns true iff Halt has been called.
func (w *Worker) IsHalted() bool {
	select {
	case <-w.HaltCh():
		return true
	default:
		return false
	}
}

// Sleep waits for d, and returns false if the worker was halted first.
func (w *Worker) Sleep(d time.Duration) bool {
	if d <= 0 {
		return !w.IsHalted()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.HaltCh():
		return false
	case <-t.C:
		return true
	}
}
