// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

//go:build noprometheus

package instrument

import "github.com/katzenpost/anodr/router"

// Init does nothing.
func Init(addr string) error {
	return nil
}

// Recorder does nothing.
type Recorder struct{}

// NewRecorder returns a Recorder that does nothing.
func NewRecorder(addr uint32) *Recorder {
	return &Recorder{}
}

// Publish does nothing.
func (r *Recorder) Publish(s router.Stats, routes, buffered int) {}
